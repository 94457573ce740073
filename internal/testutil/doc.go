// Package testutil contains helper builders and instrumented collaborators
// used across tests to reduce boilerplate when constructing step outputs and
// asserting call ordering. They are not intended for production usage.
package testutil
