// Package shape provides the typed field selections that drive statement
// generation.
//
// There are two shapes:
//   - Read: a projection over an entity, either an explicit column list or
//     the All wildcard. All always wins; explicit columns are ignored once it
//     is set.
//   - Write: an ordered list of column assignments used for inserts and
//     updates.
//
// Both shapes validate every column against the entity's column set at the
// point it is added, so a shape can only ever name columns the entity owns.
//
// # Pairing invariant
//
// Encode walks a Write exactly once and emits the column and its value in
// the same step. The field list and the value list therefore always have the
// same length and matching positions; nothing else in the module builds them
// separately.
//
// Entities are fixed: Identities, Recipes, Friends, Blocks, Requests,
// Mailbox and Chats. This is not a general mapping layer.
package shape
