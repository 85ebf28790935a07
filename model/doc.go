// Package model defines the encoding-independent types shared by the V2X
// security layer: certificate contents, SPDU structures, time and location
// units, and the stable result-code space.
//
// Wire layouts are not defined here; see package wire for the codec boundary
// and package cmhf for the key-material container.
package model
