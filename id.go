package taskcore

import "github.com/hirelane/taskcore/id"

// ID is the primary identifier type for all taskcore entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
