package domain

// ErrorKind classifies a template precondition failure.
type ErrorKind string

// Template error kinds.
const (
	KindBadExternalAsset       ErrorKind = "BadExternalAssetError"
	KindMissingCache           ErrorKind = "MissingCacheError"
	KindInvalidID              ErrorKind = "InvalidIdError"
	KindMissingCouncilMembers  ErrorKind = "MissingCouncilMembersError"
	KindBadMultisigOrAuthority ErrorKind = "BadMultisigOrAuthorityError"
	KindComponentInit          ErrorKind = "ComponentInitError"
	KindPermissionDenied       ErrorKind = "PermissionDeniedError"
	KindNameConflict           ErrorKind = "NameConflictError"
	KindPermissionGraph        ErrorKind = "PermissionGraphError"
)

// TemplateError is a precondition failure with a stable reason string.
// Error returns the reason verbatim so callers can match on it.
type TemplateError struct {
	Kind   ErrorKind
	Reason string
}

func (e *TemplateError) Error() string { return e.Reason }

// Is matches any TemplateError carrying the same reason.
func (e *TemplateError) Is(target error) bool {
	t, ok := target.(*TemplateError)
	return ok && t.Reason == e.Reason
}

func newTemplateError(kind ErrorKind, reason string) *TemplateError {
	return &TemplateError{Kind: kind, Reason: reason}
}

// Orchestrator precondition errors.
var (
	ErrBadExternalAsset       = newTemplateError(KindBadExternalAsset, "TEMPLATE_BAD_EXTERNAL_TOKEN")
	ErrMissingCache           = newTemplateError(KindMissingCache, "TEMPLATE_MISSING_CACHE")
	ErrInvalidID              = newTemplateError(KindInvalidID, "TEMPLATE_INVALID_ID")
	ErrMissingCouncilMembers  = newTemplateError(KindMissingCouncilMembers, "TEMPLATE_MISSING_COUNCIL_MEMBERS")
	ErrBadMultisigOrAuthority = newTemplateError(KindBadMultisigOrAuthority, "TEMPLATE_BAD_MULTISIG")
)

// Component initialization errors.
var (
	ErrVotingInitPcts          = newTemplateError(KindComponentInit, "VOTING_INIT_PCTS")
	ErrVotingSupportTooBig     = newTemplateError(KindComponentInit, "VOTING_INIT_SUPPORT_TOO_BIG")
	ErrFinancePeriodTooShort   = newTemplateError(KindComponentInit, "FINANCE_INIT_PERIOD_TOO_SHORT")
	ErrWrapperTokenNotContract = newTemplateError(KindComponentInit, "TW_TOKEN_NOT_CONTRACT")
	ErrAggregatorSourceInvalid = newTemplateError(KindComponentInit, "VA_SOURCE_NOT_CONTRACT")
	ErrAggregatorSourceExists  = newTemplateError(KindComponentInit, "VA_SOURCE_ALREADY_ADDED")
	ErrAggregatorZeroWeight    = newTemplateError(KindComponentInit, "VA_ZERO_WEIGHT")
	ErrMintBalanceExceeded     = newTemplateError(KindComponentInit, "TM_BALANCE_INC_NOT_ALLOWED")
	ErrTokenControllerMismatch = newTemplateError(KindComponentInit, "TM_TOKEN_CONTROLLER")
)

// ACL and registrar errors.
var (
	ErrACLAuthFailed       = newTemplateError(KindPermissionDenied, "ACL_AUTH_FAILED")
	ErrACLExistentManager  = newTemplateError(KindPermissionDenied, "ACL_EXISTENT_MANAGER")
	ErrACLOnlyManager      = newTemplateError(KindPermissionDenied, "ACL_AUTH_NO_MANAGER")
	ErrACLRoleKindMismatch = newTemplateError(KindPermissionGraph, "ACL_ROLE_RESOURCE_MISMATCH")
	ErrNameExists          = newTemplateError(KindNameConflict, "REGISTRAR_NAME_EXISTS")
)
