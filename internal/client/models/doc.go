// Package models defines the client-side data model: users and their key
// material, envelope-wrapped keys, decrypted records and their wire form,
// attachments and the closed set of resource kinds records can carry.
package models
