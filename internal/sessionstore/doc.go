// Package sessionstore keeps signed-in sessions between CLI invocations.
//
// Each session is written as JSON to <dir>/<hash>.json where the hash is
// derived from the portal (or server) URL. Only the credential record is
// stored; server tokens are minted again on demand.
package sessionstore
