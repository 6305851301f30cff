package fhir

// Administrative resources used by the bridge's outbound FHIR path.

type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	Gender       string       `json:"gender,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"`
	Address      []Address    `json:"address,omitempty"`
	Extension    []Extension  `json:"extension,omitempty"`
	Link         []PatientLink `json:"link,omitempty"`
}

type PatientLink struct {
	Other Reference `json:"other"`
	Type  string    `json:"type"` // replaced-by, replaces, ...
}

type Organization struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         string       `json:"name,omitempty"`
	PartOf       *Reference   `json:"partOf,omitempty"`
	Type         []CodeableConcept `json:"type,omitempty"`
}

type Location struct {
	ResourceType         string           `json:"resourceType"`
	ID                   string           `json:"id,omitempty"`
	Identifier           []Identifier     `json:"identifier,omitempty"`
	Name                 string           `json:"name,omitempty"`
	Mode                 string           `json:"mode,omitempty"`
	PhysicalType         *CodeableConcept `json:"physicalType,omitempty"`
	PartOf               *Reference       `json:"partOf,omitempty"`
	ManagingOrganization *Reference       `json:"managingOrganization,omitempty"`
}

type Encounter struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id,omitempty"`
	Identifier   []Identifier        `json:"identifier,omitempty"`
	Status       string              `json:"status,omitempty"`
	Class        *Coding             `json:"class,omitempty"`
	Subject      *Reference          `json:"subject,omitempty"`
	Period       *Period             `json:"period,omitempty"`
	Location     []EncounterLocation `json:"location,omitempty"`
	ServiceProvider *Reference       `json:"serviceProvider,omitempty"`
	Extension    []Extension         `json:"extension,omitempty"`
}

type EncounterLocation struct {
	Location Reference `json:"location"`
	Status   string    `json:"status,omitempty"`
	Period   *Period   `json:"period,omitempty"`
}

type Practitioner struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
}
