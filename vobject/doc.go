// Package vobject is a small, order-preserving reader and writer for the
// iCalendar (RFC 5545) and vCard (RFC 6350) content line grammar.
//
// Components keep their properties and subcomponents in document order so
// that a parsed item can be written back without reshuffling it. Property
// values are not decoded; callers work on the raw text values.
package vobject
