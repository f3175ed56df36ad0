// Package migrate migrates a container tree into a sibling replacement tree and
// then swaps the replacement into the original's place. Progress is recorded
// per node in a durable ledger so an interrupted run can be invoked again any
// number of times without repeating or duplicating work.
package migrate
