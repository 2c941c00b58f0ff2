package pgapi

import "strconv"

// DeviceKey is the canonical string over the ordered device indices of a
// collective call, e.g. "0,1,3". Two calls with the same DeviceKey share
// communicators and streams; two different orderings of the same set are
// two different keys (the ordering is a caller contract, not checked here).
type DeviceKey string

// MakeDeviceKey builds a DeviceKey preserving the caller's device order.
func MakeDeviceKey(devices []int) DeviceKey {
	if len(devices) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(devices)*3)
	for i, d := range devices {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, int64(d), 10)
	}
	return DeviceKey(buf)
}
