// Package rate counts attempts in fixed Redis windows.
//
// Each key is an INCR counter whose TTL is set on the first hit, so a window
// starts at the first attempt and ends Window later. Keys are
// <prefix>:<key>.
package rate
