package plugins

// Register registers impl under the key of T.
func Register[T any](ctx Context, impl T, opts ...RegisterOption) (Handle, error) {
	if ctx == nil {
		return Handle{}, ErrContextNotFound
	}
	return ctx.RegisterInterface(impl, append([]RegisterOption{As[T]()}, opts...)...)
}

// Query returns the implementation of T visible from ctx, or the zero value.
func Query[T any](ctx Context) T {
	v, _ := Lookup[T](ctx)
	return v
}

// Lookup is Query reporting whether an implementation was found.
func Lookup[T any](ctx Context) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v := ctx.QueryInterface(KeyOf[T]())
	if v == nil {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// QueryAll returns every implementation of T visible from ctx.
func QueryAll[T any](ctx Context) []T {
	if ctx == nil {
		return nil
	}
	vs := ctx.QueryInterfaces(KeyOf[T]())
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// QueryWeak returns a weak reference to the implementation of T.
func QueryWeak[T any](ctx Context) (WeakRef[T], bool) {
	if ctx == nil {
		return WeakRef[T]{}, false
	}
	h, ok := ctx.QueryHandle(KeyOf[T]())
	if !ok {
		return WeakRef[T]{}, false
	}
	return NewWeakRef[T](h), true
}
