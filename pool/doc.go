// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for the fiber runtime.
// StackPool allocates and recycles fixed-size, guard-paged regions that back
// each fiber's private memory. Regions come from anonymous mmap on Linux and
// from the Go heap elsewhere. A region in use is never on the free-list.
package pool
