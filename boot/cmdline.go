package boot

import (
	"strings"

	"github.com/go-lynx/plughost/plugins"
)

var _ plugins.CommandLine = (*CommandLine)(nil)

// CommandLine is the plugins.CommandLine view of the raw process
// arguments. "--name=value" is a parameter, a bare "--name" or "-name" a
// flag, "--" ends option parsing and everything else is positional.
type CommandLine struct {
	raw        []string
	positional []string
	flags      map[string]struct{}
	params     map[string]string
}

// NewCommandLine parses args, which exclude the program name.
func NewCommandLine(args []string) *CommandLine {
	c := &CommandLine{
		raw:    append([]string(nil), args...),
		flags:  make(map[string]struct{}),
		params: make(map[string]string),
	}
	for i, arg := range args {
		if arg == "--" {
			c.positional = append(c.positional, args[i+1:]...)
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			c.positional = append(c.positional, arg)
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(name, "="); ok {
			c.params[k] = v
			continue
		}
		c.flags[name] = struct{}{}
	}
	return c
}

func (c *CommandLine) Args() []string {
	return append([]string(nil), c.raw...)
}

// Positional returns the arguments that are neither flags nor parameters.
func (c *CommandLine) Positional() []string {
	return append([]string(nil), c.positional...)
}

func (c *CommandLine) Flag(name string) bool {
	_, ok := c.flags[strings.TrimLeft(name, "-")]
	return ok
}

func (c *CommandLine) Param(name string) (string, bool) {
	v, ok := c.params[strings.TrimLeft(name, "-")]
	return v, ok
}
