package core

import "daoforge/pkg/domain"

type (
	Address            = domain.Address
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Organization       = domain.Organization
	Component          = domain.Component
	ComponentKind      = domain.ComponentKind
	ComponentParams    = domain.ComponentParams
	Token              = domain.Token
	Asset              = domain.Asset
	Account            = domain.Account
	Permission         = domain.Permission
	PermissionGrant    = domain.PermissionGrant
	PermissionKey      = domain.PermissionKey
	NameRecord         = domain.NameRecord
	CachedInstance     = domain.CachedInstance
	CachedToken        = domain.CachedToken
	VotingSettings     = domain.VotingSettings
	Event              = domain.Event
	Receipt            = domain.Receipt
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityOrganization   = domain.EntityOrganization
	EntityComponent      = domain.EntityComponent
	EntityToken          = domain.EntityToken
	EntityPermission     = domain.EntityPermission
	EntityName           = domain.EntityName
	EntityCachedInstance = domain.EntityCachedInstance
	EntityCachedToken    = domain.EntityCachedToken
	EntityAsset          = domain.EntityAsset
	EntityAccount        = domain.EntityAccount
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
