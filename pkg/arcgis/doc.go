// Package arcgis holds the wire types and URL rules of an ArcGIS identity
// federation: a portal that issues tokens and the servers that trust it.
//
// The URL helpers are pure functions. ParseServerRoot derives the key under
// which server tokens are cached, IsFederated compares a server's advertised
// owning system with a portal, and the Online helpers recognize ArcGIS Online
// hosts and the environment (production, dev, qa) they belong to.
package arcgis
