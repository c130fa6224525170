package paidwork

import "github.com/robelmit/paidwork/id"

// ID is the primary identifier type for all paidwork entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
