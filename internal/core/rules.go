package core

// NewDefaultRulesEngine builds a rules engine with the built-in ACL and
// lifecycle policies.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewPermissionIntegrityRule())
	engine.Register(NewTemplateResidueRule(TemplateAddress))
	engine.Register(NewOrganizationLifecycleRule())
	return engine
}
