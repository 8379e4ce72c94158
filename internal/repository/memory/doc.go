// Package memory provides in-process implementations of the repository
// interfaces. They back the service and worker tests and let the server
// run without a database in development. Contents are lost on restart.
package memory
