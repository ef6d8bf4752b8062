// Package importer is the built-in resource-type handler: it stores entry
// payloads in the resources table and syncs the entry to them.
package importer
