// Package output defines the sinks the weight monitor publishes readings to.
// Each sink lives in its own subpackage.
package output

import "github.com/ericogr/hx711-scale/pkg/sensor"

// Output receives calibrated readings. Publish is called from a single
// goroutine; Close releases files, connections and listeners.
type Output interface {
	Publish(r sensor.Reading) error
	Close() error
}
