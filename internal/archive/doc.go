// Package archive uploads finished recordings to object storage.
package archive
