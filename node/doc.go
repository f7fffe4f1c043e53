// Package node implements the two ends of the tagsync protocol: the Master,
// which coordinates synchronized triggers and correlates the resulting
// streams, and the Slave, which arms its local device on command and pushes
// its acquisition files back.
//
// Each node runs a fixed set of listener tasks over the five channels plus
// one foreground acquisition task, all managed by a TaskManager and all
// sharing one Acquisition Session record behind a single lock.
package node
