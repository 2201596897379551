// Command trellis manages the PostgreSQL schema backing an application model.
//
// The CLI supports:
//   - validate: Check an application model file for structural problems
//   - migrate: Materialize the model into PostgreSQL tables
//   - drop: Remove everything migrate created
//   - doctor: Check model, migration state and database health
//
// Commands that require database access (migrate, drop, doctor) need --db or
// a configured database. validate only reads files.
package main

func main() {
	Execute()
}
