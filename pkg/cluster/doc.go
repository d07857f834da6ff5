// Package cluster partitions mesh vertices into spatially coherent groups so
// each group can be solved independently.
//
// Partition runs k-means with k-means++ seeding and several restarts from a
// fixed seed, so the same input always yields the same groups. SplitAxis is a
// cheaper alternative that slices the vertices along one axis.
package cluster
