package retarget

import "fmt"

// ValidationError reports unusable input detected before any work starts.
type ValidationError struct {
	Mesh   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Mesh == "" {
		return "retarget: " + e.Reason
	}
	return fmt.Sprintf("retarget: mesh %q: %s", e.Mesh, e.Reason)
}

// ClusterError reports the failure of one cluster, which aborts its target
// for the named destination. Destination is empty when the failure happened
// while planning and applies to every destination.
type ClusterError struct {
	Destination string
	Target      string
	Cluster     int
	Err         error
}

func (e *ClusterError) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("retarget: target %q cluster %d: %v", e.Target, e.Cluster, e.Err)
	}
	return fmt.Sprintf("retarget: %q -> target %q cluster %d: %v", e.Destination, e.Target, e.Cluster, e.Err)
}

func (e *ClusterError) Unwrap() error { return e.Err }

// forDestination returns a copy of e attributed to dst.
func (e *ClusterError) forDestination(dst string) *ClusterError {
	c := *e
	c.Destination = dst
	return &c
}
