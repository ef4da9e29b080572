package metrics

import "sort"

// Data is a point-in-time snapshot of named counters, optionally nested
// into named sub-groups. It is the read side exposed by components that
// keep their own counters (the worker pool, the evaluation engine).
type Data struct {
	Values map[string]int64 `json:"values,omitempty"`
	Sub    map[string]Data  `json:"sub,omitempty"`
}

// NewData returns an empty snapshot.
func NewData() Data {
	return Data{Values: map[string]int64{}, Sub: map[string]Data{}}
}

// With sets a counter value and returns d for chaining.
func (d Data) With(name string, value int64) Data {
	if d.Values == nil {
		d.Values = map[string]int64{}
	}
	d.Values[name] = value
	return d
}

// WithSub attaches a named sub-group and returns d for chaining.
func (d Data) WithSub(name string, sub Data) Data {
	if d.Sub == nil {
		d.Sub = map[string]Data{}
	}
	d.Sub[name] = sub
	return d
}

// Get returns the named counter, or 0 if absent.
func (d Data) Get(name string) int64 {
	return d.Values[name]
}

// SubMetrics returns the named sub-group and whether it exists.
func (d Data) SubMetrics(name string) (Data, bool) {
	sub, ok := d.Sub[name]
	return sub, ok
}

// Names returns the counter names in sorted order.
func (d Data) Names() []string {
	names := make([]string, 0, len(d.Values))
	for n := range d.Values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
