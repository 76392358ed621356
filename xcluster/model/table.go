// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"fmt"
)

// NamespaceID is the id of a database on either side of the replication.
type NamespaceID string

// TableID is the id of a table or a secondary index.
type TableID string

// TableInfo is the identity and naming of a table on the target cluster.
type TableInfo struct {
	ID            TableID     `json:"id"`
	NamespaceID   NamespaceID `json:"namespace-id"`
	NamespaceName string      `json:"namespace-name"`
	SchemaName    string      `json:"schema-name"`
	Name          string      `json:"name"`
	// IndexedTableID is the id of the base table when this is a secondary index.
	IndexedTableID TableID `json:"indexed-table-id,omitempty"`
}

// IsIndex reports whether the table is a secondary index.
func (t *TableInfo) IsIndex() bool {
	return t.IndexedTableID != ""
}

// QualifiedName returns namespace.schema.name.
func (t *TableInfo) QualifiedName() string {
	return fmt.Sprintf("%s.%s.%s", t.NamespaceName, t.SchemaName, t.Name)
}

func (t *TableInfo) String() string {
	return fmt.Sprintf("%s [id=%s]", t.QualifiedName(), t.ID)
}
