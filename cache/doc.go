// Package cache provides the bounded, time-limited in-memory cache used for
// validated credentials.
//
// Keys for credentials are derived with TokenKey so raw tokens never live
// in memory longer than the request that presented them.
package cache
