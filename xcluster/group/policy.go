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

package group

import (
	"github.com/xcluster/xtarget/xcluster/model"
)

// ShouldAddTable reports whether a newly created table has to be admitted
// into the replication group.
//
// Groups that are deleted or failed never take new tables. A whole database
// group takes every table of a covered namespace until it is validated. A
// group with an explicit table list only takes secondary indexes of tables it
// already replicates, since new base tables are added by the user explicitly.
func ShouldAddTable(info *model.ReplicationGroupInfo, table *model.TableInfo) bool {
	if info.State.IsTerminal() {
		return false
	}
	if info.HasConsumerTable(table.ID) {
		return false
	}
	if info.Scope() == model.ScopeWholeDatabase {
		return info.CoversNamespace(table.NamespaceID)
	}
	if !table.IsIndex() {
		return false
	}
	return info.HasConsumerTable(table.IndexedTableID)
}
