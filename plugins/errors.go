package plugins

import (
	"errors"
	"fmt"
)

// Common error variables for registry and plugin operations
var (
	// ErrInvalidInterface indicates a nil implementation was passed to RegisterInterface
	ErrInvalidInterface = errors.New("invalid interface")

	// ErrDuplicateInterface indicates the same object is already registered in the context
	// The first registration is left untouched
	ErrDuplicateInterface = errors.New("interface already registered")

	// ErrInterfaceTypeMismatch indicates an implementation does not satisfy the key it was registered under
	ErrInterfaceTypeMismatch = errors.New("interface type mismatch")

	// ErrInterfaceNotFound indicates a handle that is stale or belongs to another context
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrContextNotActive indicates a registration attempt on a context that is not active
	ErrContextNotActive = errors.New("context not active")

	// ErrContextNotFound indicates the requested context does not exist or was already destroyed
	ErrContextNotFound = errors.New("context not found")

	// ErrContextExists indicates a context already exists for the plugin ID
	ErrContextExists = errors.New("context already exists")

	// ErrPluginAlreadyLoaded indicates a plugin ID that is already loaded or repeated in a batch
	ErrPluginAlreadyLoaded = errors.New("plugin already loaded")

	// ErrPluginNotFound indicates the plugin ID is not currently loaded
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrModuleOpen indicates the plugin module could not be opened
	ErrModuleOpen = errors.New("plugin module open failed")

	// ErrEntryNotFound indicates the module does not export a usable entry symbol
	ErrEntryNotFound = errors.New("plugin entry symbol not found")

	// ErrNilPluginMain indicates the entry func returned no plugin object
	ErrNilPluginMain = errors.New("plugin entry returned nil")

	// ErrDependencyNotMet indicates a required interface is not resolvable after PostLoad
	ErrDependencyNotMet = errors.New("plugin dependency not met")

	// ErrPluginPanic indicates a plugin hook panicked
	ErrPluginPanic = errors.New("plugin panicked")
)

// PluginError represents a detailed error that occurred during plugin operations
type PluginError struct {
	// PluginID identifies the plugin where the error occurred
	PluginID PluginID

	// Operation describes the action that was being performed when the error occurred
	Operation string

	// Message provides a detailed description of the error
	Message string

	// Err is the underlying error that caused this PluginError
	Err error
}

// Error implements the error interface for PluginError
func (e *PluginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %s failed: %s (%v)", e.PluginID, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s failed: %s", e.PluginID, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error chain handling
func (e *PluginError) Unwrap() error {
	return e.Err
}

// NewPluginError creates a new PluginError with the given details
func NewPluginError(id PluginID, operation, message string, err error) *PluginError {
	return &PluginError{
		PluginID:  id,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
