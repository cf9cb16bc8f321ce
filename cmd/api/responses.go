package main

import (
	"encoding/json"
	"time"

	"jurisflow/proceeding"
)

type documentResponse struct {
	ID         string `json:"id"`
	Side       string `json:"side"`
	Filename   string `json:"filename"`
	Content    string `json:"content"`
	UploadedAt string `json:"uploadedAt"`
}

type argumentResponse struct {
	ID        string `json:"id"`
	CaseID    string `json:"caseId"`
	Side      string `json:"side"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
}

type decisionResponse struct {
	ID        string          `json:"id"`
	CaseID    string          `json:"caseId"`
	Text      string          `json:"text"`
	Type      string          `json:"type,omitempty"`
	Final     bool            `json:"final"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

type caseResponse struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	CaseType          string             `json:"type"`
	Phase             string             `json:"phase"`
	Status            string             `json:"status"`
	SurrenderedBy     *string            `json:"surrenderedBy,omitempty"`
	Closed            bool               `json:"closed"`
	NextVerdict       string             `json:"nextVerdict"`
	Documents         []documentResponse `json:"documents"`
	Arguments         []argumentResponse `json:"arguments"`
	Verdicts          []decisionResponse `json:"verdicts"`
	ArgumentCount     int                `json:"argumentCount"`
	VerdictCount      int                `json:"verdictCount"`
	RemainingCounters map[string]int     `json:"remainingCounters"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toDocumentResponse(d proceeding.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		Side:       string(d.Side),
		Filename:   d.Filename,
		Content:    d.Content,
		UploadedAt: formatTime(d.UploadedAt),
	}
}

func toArgumentResponse(a proceeding.Argument) argumentResponse {
	return argumentResponse{
		ID:        a.ID,
		CaseID:    a.CaseID,
		Side:      string(a.Side),
		Text:      a.Text,
		Type:      string(a.Type),
		CreatedAt: formatTime(a.CreatedAt),
	}
}

func toDecisionResponse(d proceeding.Decision) decisionResponse {
	return decisionResponse{
		ID:        d.ID,
		CaseID:    d.CaseID,
		Text:      d.Text,
		Type:      string(d.Type),
		Final:     d.Final,
		Raw:       d.Provenance,
		CreatedAt: formatTime(d.CreatedAt),
	}
}

func toCaseResponse(v proceeding.CaseView) caseResponse {
	c := v.Case
	resp := caseResponse{
		ID:                c.ID,
		Title:             c.Title,
		CaseType:          c.CaseType,
		Phase:             string(c.Phase),
		Status:            string(c.Status),
		Closed:            v.Closed,
		NextVerdict:       string(v.NextVerdict),
		Documents:         make([]documentResponse, 0, len(c.Documents)),
		Arguments:         make([]argumentResponse, 0, len(v.Arguments)),
		Verdicts:          make([]decisionResponse, 0, len(v.Decisions)),
		ArgumentCount:     v.ArgumentCount,
		VerdictCount:      v.VerdictCount,
		RemainingCounters: make(map[string]int, len(v.Remaining)),
		CreatedAt:         formatTime(c.CreatedAt),
		UpdatedAt:         formatTime(c.UpdatedAt),
	}
	if c.SurrenderedBy != nil {
		side := string(*c.SurrenderedBy)
		resp.SurrenderedBy = &side
	}
	for _, d := range c.Documents {
		resp.Documents = append(resp.Documents, toDocumentResponse(d))
	}
	for _, a := range v.Arguments {
		resp.Arguments = append(resp.Arguments, toArgumentResponse(a))
	}
	for _, d := range v.Decisions {
		resp.Verdicts = append(resp.Verdicts, toDecisionResponse(d))
	}
	for side, n := range v.Remaining {
		resp.RemainingCounters[string(side)] = n
	}
	return resp
}
