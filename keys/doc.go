// Package keys keeps P-256 signing material for the operator CLI.
//
// A key is stored as a 32-byte hex seed. The private scalar is derived from
// the seed, so role keys (an enrolment key, a caterpillar key, a development
// root) can be derived deterministically from one root seed and recreated on
// another machine.
//
// Keys held by this package are for provisioning tools and development
// material. Receivers and senders get their signing credentials from CMHF
// containers instead (package cmh).
package keys
