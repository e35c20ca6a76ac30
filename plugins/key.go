package plugins

import (
	"fmt"
	"reflect"
)

// InterfaceKey is the stable identity of an interface type in a registry.
type InterfaceKey string

// KeyOf returns the key of T. For named types the key is the full package
// path plus the type name, so it is identical in every module of the process.
func KeyOf[T any]() InterfaceKey {
	return keyOfType(reflect.TypeFor[T]())
}

// KeyOfValue returns the key of v's dynamic type.
func KeyOfValue(v any) InterfaceKey {
	return keyOfType(reflect.TypeOf(v))
}

func keyOfType(t reflect.Type) InterfaceKey {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer && t.Name() == "" {
		return "*" + keyOfType(t.Elem())
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return InterfaceKey(t.PkgPath() + "." + t.Name())
	}
	return InterfaceKey(t.String())
}

// RegisterOption customizes a RegisterInterface call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	keys    []InterfaceKey
	checks  []func(impl any) error
	owned   bool
	private bool
}

// As registers the implementation under the key of T. The implementation
// must satisfy T; this is checked at registration time.
func As[T any]() RegisterOption {
	key := KeyOf[T]()
	return func(o *registerOptions) {
		o.keys = append(o.keys, key)
		o.checks = append(o.checks, func(impl any) error {
			if _, ok := impl.(T); !ok {
				return fmt.Errorf("%w: %T does not implement %s", ErrInterfaceTypeMismatch, impl, key)
			}
			return nil
		})
	}
}

// WithKey registers the implementation under an explicit key. No type
// check is performed.
func WithKey(key InterfaceKey) RegisterOption {
	return func(o *registerOptions) {
		if key != "" {
			o.keys = append(o.keys, key)
		}
	}
}

// Owned transfers ownership to the registry: the implementation is released
// when it is deregistered.
func Owned() RegisterOption {
	return func(o *registerOptions) {
		o.owned = true
	}
}

// Private keeps the registration visible only from the registering context.
func Private() RegisterOption {
	return func(o *registerOptions) {
		o.private = true
	}
}

func newRegisterOptions(opts []RegisterOption) registerOptions {
	var o registerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Releaser is implemented by owned interfaces that hold resources.
type Releaser interface {
	Release()
}
