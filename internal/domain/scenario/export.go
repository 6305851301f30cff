package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/vocabulary"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// templateDoc is the interchange form of a template.
type templateDoc struct {
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	Protocol      string    `json:"protocol"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	TimeConfig    *Timeplan `json:"time_config,omitempty"`
	CapturedStart time.Time `json:"captured_start,omitempty"`
	Steps         []stepDoc `json:"steps"`
}

// stepDoc carries one step. The fields beyond the interchange core
// round-trip capture metadata; a document without them still imports,
// the registry fills semantic and role from the message type.
type stepDoc struct {
	OrderIndex   int    `json:"order_index"`
	MessageType  string `json:"message_type"`
	Format       string `json:"format"`
	DelaySeconds int64  `json:"delay_seconds"`
	Payload      string `json:"payload,omitempty"`

	Semantic       string `json:"semantic,omitempty"`
	Role           string `json:"role,omitempty"`
	DossierType    string `json:"dossier_type,omitempty"`
	Location       string `json:"location,omitempty"`
	MedicalUFCode  string `json:"medical_uf_code,omitempty"`
	MedicalUFLabel string `json:"medical_uf_label,omitempty"`
	CareUFCode     string `json:"care_uf_code,omitempty"`
	CareUFLabel    string `json:"care_uf_label,omitempty"`
	Nature         string `json:"nature,omitempty"`
	Action         string `json:"action,omitempty"`
}

// Export renders a template as an interchange document.
func (s *Service) Export(ctx context.Context, key string) ([]byte, error) {
	tmpl, err := s.repo.FindTemplateByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, diag.New(diag.TemplateNotFound, "template %q does not exist", key)
	}

	doc := templateDoc{
		Key:           tmpl.Key,
		Name:          tmpl.Name,
		Protocol:      tmpl.Protocol,
		Description:   tmpl.Description,
		Category:      tmpl.Category,
		Tags:          tmpl.Tags,
		TimeConfig:    tmpl.TimeConfig,
		CapturedStart: tmpl.CapturedStart,
	}
	for _, st := range tmpl.Steps {
		doc.Steps = append(doc.Steps, stepDoc{
			OrderIndex:     st.Sequence,
			MessageType:    vocabulary.WireType(st.Trigger),
			Format:         tmpl.Protocol,
			DelaySeconds:   st.DelaySeconds,
			Payload:        st.Payload,
			Semantic:       st.Semantic,
			Role:           st.Role,
			DossierType:    st.DossierType,
			Location:       st.Location,
			MedicalUFCode:  st.MedicalUFCode,
			MedicalUFLabel: st.MedicalUFLabel,
			CareUFCode:     st.CareUFCode,
			CareUFLabel:    st.CareUFLabel,
			Nature:         st.Nature,
			Action:         st.Action,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Import reads an interchange document. An existing key fails unless
// overrideKey, in which case the template is replaced atomically.
func (s *Service) Import(ctx context.Context, data []byte, overrideKey bool) (*Template, error) {
	var doc templateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("scenario: malformed template document: %w", err)
	}
	if doc.Key == "" || doc.Name == "" {
		return nil, fmt.Errorf("scenario: template key and name are required")
	}
	if doc.Protocol == "" {
		doc.Protocol = ProtocolHL7
	}
	if doc.Protocol != ProtocolHL7 && doc.Protocol != ProtocolFHIR {
		return nil, fmt.Errorf("scenario: unknown protocol %q", doc.Protocol)
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("scenario: template %q has no steps", doc.Key)
	}

	existing, err := s.repo.FindTemplateByKey(ctx, doc.Key)
	if err != nil {
		return nil, err
	}
	if existing != nil && !overrideKey {
		return nil, fmt.Errorf("scenario: template key %q already exists", doc.Key)
	}

	tmpl := &Template{
		Key:           doc.Key,
		Name:          doc.Name,
		Protocol:      doc.Protocol,
		Description:   doc.Description,
		Category:      doc.Category,
		Tags:          doc.Tags,
		TimeConfig:    doc.TimeConfig,
		CapturedStart: doc.CapturedStart,
	}
	if existing != nil {
		tmpl.ID = existing.ID
	}

	sort.SliceStable(doc.Steps, func(i, j int) bool {
		return doc.Steps[i].OrderIndex < doc.Steps[j].OrderIndex
	})
	reg := vocabulary.Default()
	for i, sd := range doc.Steps {
		entry, ok := reg.ByTrigger(sd.MessageType)
		if !ok {
			return nil, fmt.Errorf("scenario: step %d has unknown message type %q",
				sd.OrderIndex, sd.MessageType)
		}
		if sd.Format != "" && sd.Format != doc.Protocol {
			return nil, fmt.Errorf("scenario: step %d format %q conflicts with protocol %q",
				sd.OrderIndex, sd.Format, doc.Protocol)
		}
		st := Step{
			Sequence:       i + 1,
			Semantic:       sd.Semantic,
			Trigger:        entry.Trigger,
			Role:           sd.Role,
			DelaySeconds:   sd.DelaySeconds,
			DossierType:    sd.DossierType,
			Location:       sd.Location,
			MedicalUFCode:  sd.MedicalUFCode,
			MedicalUFLabel: sd.MedicalUFLabel,
			CareUFCode:     sd.CareUFCode,
			CareUFLabel:    sd.CareUFLabel,
			Nature:         sd.Nature,
			Action:         sd.Action,
			Payload:        sd.Payload,
		}
		if st.Semantic == "" {
			st.Semantic = entry.Semantic
		}
		if st.Role == "" {
			st.Role = string(entry.Role)
		}
		if st.Nature == "" {
			st.Nature = entry.DefaultNature
		}
		tmpl.Steps = append(tmpl.Steps, st)
	}

	if err := s.repo.SaveTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}
