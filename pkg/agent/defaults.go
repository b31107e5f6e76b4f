package agent

// DefaultDescriptors returns the CrossCheck trade-compliance agent panel.
// Targets are left empty so they derive from the configured base URL.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{Name: "Route_Validator", ID: "71c23734-2a91-4345-bcdf-887717c73769"},
		{Name: "Value_validator", ID: "07a2107e-9c9b-4cf1-b91c-85d6b07963d9"},
		{Name: "Regulatory_compliance_checker", ID: "cff07b49-dd72-4941-ab48-7da1907b6f4b"},
		{Name: "Supplier_History_Analyzer", ID: "5fdf36fa-632a-4154-ba92-d182bf93cb72"},
		{Name: "Risk Scorer_&_Prioritizer", ID: "bb5aa7e3-a134-4866-98d7-74c8b311fc53"},
		{Name: "Document_consistency_checker", ID: "f0265e05-d232-45f7-aab5-c0bc2b870171"},
		{Name: "hs_code_validator", ID: "09d34238-c58a-41ff-8034-7f9ebe3e1d73"},
		{Name: "Origin_validator", ID: "f182b7d5-5da3-4a90-b535-122e88f96087"},
	}
}

// NewDefaultRegistry builds a registry over DefaultDescriptors
func NewDefaultRegistry(baseURL string) (*Registry, error) {
	return NewRegistry(baseURL, DefaultDescriptors()...)
}
