// Package optional provides a value which may or may not be set. It is used
// where the zero value of a type is a valid value, such as a Vulkan queue
// family index.
package optional

// Optional holds a value of type T which may be unset.
type Optional[T any] struct {
	value T
	set   bool
}

// Of returns an Optional holding val.
func Of[T any](val T) Optional[T] {
	return Optional[T]{value: val, set: true}
}

// Set stores val and marks the optional as set.
func (o *Optional[T]) Set(val T) {
	o.value = val
	o.set = true
}

// Get returns the stored value. It returns the zero value of T when the
// optional has not been set.
func (o Optional[T]) Get() T {
	return o.value
}

// GetOr returns the stored value or def when nothing has been set.
func (o Optional[T]) GetOr(def T) T {
	if !o.set {
		return def
	}
	return o.value
}

// HasValue returns true if a value has been set.
func (o Optional[T]) HasValue() bool {
	return o.set
}

// Clear unsets the optional.
func (o *Optional[T]) Clear() {
	var zero T
	o.value = zero
	o.set = false
}
