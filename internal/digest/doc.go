// Package digest decides when a reporting unit is complete, builds its digest
// exactly once, and delivers it exactly once.
//
// Detector holds the only copy of the eligibility rule. Builder and Sender are the
// CREATE_DIGEST and SEND_DIGEST task handlers; both establish ownership through
// single-statement claims in the store before doing any external work. Sweeper
// hands stale building digests to a new execution or fails them.
package digest
