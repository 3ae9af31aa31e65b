// Package milterutil includes helpers for filters and MTAs that sit on top of the protocol packages:
// SMTP reply text formatting and fixed size chunking of message bodies.
package milterutil
