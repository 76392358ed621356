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
	"sort"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
)

// ReplicationGroupID is the id of an xCluster replication group.
type ReplicationGroupID string

// GroupState is the lifecycle state of a replication group.
type GroupState string

// All group states
const (
	GroupStateActive   GroupState = "active"
	GroupStateDeleting GroupState = "deleting"
	GroupStateDeleted  GroupState = "deleted"
	GroupStateFailed   GroupState = "failed"
)

// IsTerminal reports whether no table can be added to a group in this state.
func (s GroupState) IsTerminal() bool {
	return s == GroupStateDeleted || s == GroupStateFailed
}

// ScopeMode decides how a group selects the tables it replicates.
type ScopeMode int

// All scope modes
const (
	ScopeExplicitTableList ScopeMode = iota
	ScopeWholeDatabase
)

func (m ScopeMode) String() string {
	switch m {
	case ScopeExplicitTableList:
		return "explicit-table-list"
	case ScopeWholeDatabase:
		return "whole-database"
	}
	return "unknown"
}

// NamespacePair maps a source namespace to the target namespace it replicates into.
type NamespacePair struct {
	SourceNamespaceID NamespaceID `json:"source-namespace-id"`
	TargetNamespaceID NamespaceID `json:"target-namespace-id"`
}

// DBScopedInfo is present on groups that replicate whole databases.
type DBScopedInfo struct {
	Namespaces []NamespacePair `json:"namespaces"`
}

// PendingTable is a table waiting for its setup replication to finish.
type PendingTable struct {
	ProducerTableID TableID `json:"producer-table-id"`
	BootstrapID     string  `json:"bootstrap-id"`
}

// ReplicationGroupInfo is the persisted configuration of a replication group.
type ReplicationGroupInfo struct {
	ID                 ReplicationGroupID `json:"id"`
	SourceMasterAddrs  []string           `json:"source-master-addrs"`
	State              GroupState         `json:"state"`
	ProducerTables     []TableID          `json:"producer-tables"`
	// ValidatedTables maps producer table ids to consumer table ids.
	ValidatedTables map[TableID]TableID `json:"validated-tables"`
	PendingAdds     []PendingTable      `json:"pending-adds"`
	DBScoped        *DBScopedInfo       `json:"db-scoped,omitempty"`

	// Revision is the store revision this snapshot was read at.
	Revision int64 `json:"-"`
}

// Scope returns the scope mode of the group.
func (g *ReplicationGroupInfo) Scope() ScopeMode {
	if g.DBScoped != nil {
		return ScopeWholeDatabase
	}
	return ScopeExplicitTableList
}

// HasProducerTable reports whether the producer table is part of the group,
// either validated or pending.
func (g *ReplicationGroupInfo) HasProducerTable(id TableID) bool {
	for _, t := range g.ProducerTables {
		if t == id {
			return true
		}
	}
	for _, p := range g.PendingAdds {
		if p.ProducerTableID == id {
			return true
		}
	}
	return false
}

// HasConsumerTable reports whether the consumer table is already replicated by the group.
func (g *ReplicationGroupInfo) HasConsumerTable(id TableID) bool {
	for _, c := range g.ValidatedTables {
		if c == id {
			return true
		}
	}
	return false
}

// CoversNamespace reports whether a whole database group replicates into the
// target namespace.
func (g *ReplicationGroupInfo) CoversNamespace(target NamespaceID) bool {
	_, ok := g.producerNamespace(target)
	return ok
}

// GetProducerNamespaceID returns the source namespace replicating into target.
func (g *ReplicationGroupInfo) GetProducerNamespaceID(target NamespaceID) (NamespaceID, error) {
	id, ok := g.producerNamespace(target)
	if !ok {
		return "", cerrors.ErrProducerNamespaceNotFound.GenWithStackByArgs(target, g.ID)
	}
	return id, nil
}

func (g *ReplicationGroupInfo) producerNamespace(target NamespaceID) (NamespaceID, bool) {
	if g.DBScoped == nil {
		return "", false
	}
	for _, p := range g.DBScoped.Namespaces {
		if p.TargetNamespaceID == target {
			return p.SourceNamespaceID, true
		}
	}
	return "", false
}

// SortedMasterAddrs returns a sorted copy of the source master addresses.
func (g *ReplicationGroupInfo) SortedMasterAddrs() []string {
	addrs := append([]string(nil), g.SourceMasterAddrs...)
	sort.Strings(addrs)
	return addrs
}

// Clone returns a deep copy of the group.
func (g *ReplicationGroupInfo) Clone() *ReplicationGroupInfo {
	c := *g
	c.SourceMasterAddrs = append([]string(nil), g.SourceMasterAddrs...)
	c.ProducerTables = append([]TableID(nil), g.ProducerTables...)
	c.PendingAdds = append([]PendingTable(nil), g.PendingAdds...)
	if g.ValidatedTables != nil {
		c.ValidatedTables = make(map[TableID]TableID, len(g.ValidatedTables))
		for k, v := range g.ValidatedTables {
			c.ValidatedTables[k] = v
		}
	}
	if g.DBScoped != nil {
		c.DBScoped = &DBScopedInfo{
			Namespaces: append([]NamespacePair(nil), g.DBScoped.Namespaces...),
		}
	}
	return &c
}

// Marshal returns the json encoding of the group.
func (g *ReplicationGroupInfo) Marshal() ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrEncodeFailed, err, g.ID)
	}
	return data, nil
}

// Unmarshal decodes the group from json.
func (g *ReplicationGroupInfo) Unmarshal(data []byte) error {
	err := json.Unmarshal(data, g)
	if err != nil {
		return cerrors.WrapError(cerrors.ErrDecodeFailed, err, string(data))
	}
	return nil
}

// AppError is an application level failure carried inside a response.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAppError converts err into an AppError, keeping its RFC code if any.
func NewAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	appErr := &AppError{Code: "Unknown", Message: err.Error()}
	if code, ok := cerrors.RFCCode(err); ok {
		appErr.Code = string(code)
	}
	return appErr
}

func (e *AppError) Error() string {
	return e.Code + ": " + e.Message
}

// ToError returns the error form of e, nil if e is nil.
func (e *AppError) ToError() error {
	if e == nil {
		return nil
	}
	return errors.New(e.Error())
}
