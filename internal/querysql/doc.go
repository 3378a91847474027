// Package querysql compiles shapes into parameterized SQL statements.
//
// Table and column names are taken from the fixed entity set in package shape;
// caller-supplied values only ever travel as statement parameters. Multi-row
// reads always carry ORDER BY id ASC so results are stable across backends.
package querysql
