// Package booking is the orchestrator: it turns a raw booking request into
// at-most-one confirmed appointment, reconciling the reservation ledger with
// the external calendar and handing notification work to the dispatcher.
package booking

import (
	"encoding/json"
)

// Customer is the person the appointment is for.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Request is the normalized createBooking input. Duration and buffer stay
// pointers so "absent" falls back to the tenant profile instead of zero.
type Request struct {
	BusinessID  string
	StartLocal  string
	Timezone    string
	DurationMin *int
	BufferMin   *int
	Service     string
	IsEmergency bool
	Notes       string
	Customer    Customer
	RequestID   string
}

// rawRequest carries every alias the public API accepts. Voice-agent clients
// send snake_case, the dashboard sends camelCase; both normalize to Request.
type rawRequest struct {
	BusinessID      string `json:"businessId"`
	BusinessIDAlt   string `json:"business_id"`
	StartLocal      string `json:"startLocal"`
	StartLocalAlt   string `json:"start_local"`
	Timezone        string `json:"timezone"`
	DurationMins    *int   `json:"durationMins"`
	DurationMinAlt  *int   `json:"duration_min"`
	BufferMins      *int   `json:"bufferMins"`
	BufferMinAlt    *int   `json:"buffer_min"`
	Service         string `json:"service"`
	ServiceTypeAlt  string `json:"service_type"`
	IsEmergency     *bool     `json:"isEmergency"`
	IsEmergencyAlt  *bool     `json:"is_emergency"`
	Notes           string    `json:"notes"`
	Customer        *Customer `json:"customer"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerAddress string    `json:"customer_address"`
	ServiceAddress  string    `json:"service_address"`
	Address         string    `json:"address"`
}

// ParseRequest decodes a booking body, folding all field aliases into the
// canonical Request.
func ParseRequest(body []byte) (*Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	req := &Request{
		BusinessID: firstNonEmpty(raw.BusinessID, raw.BusinessIDAlt),
		StartLocal: firstNonEmpty(raw.StartLocal, raw.StartLocalAlt),
		Timezone:   raw.Timezone,
		Service:    firstNonEmpty(raw.Service, raw.ServiceTypeAlt),
		Notes:      raw.Notes,
	}
	if raw.DurationMins != nil {
		req.DurationMin = raw.DurationMins
	} else if raw.DurationMinAlt != nil {
		req.DurationMin = raw.DurationMinAlt
	}
	if raw.BufferMins != nil {
		req.BufferMin = raw.BufferMins
	} else if raw.BufferMinAlt != nil {
		req.BufferMin = raw.BufferMinAlt
	}
	if raw.IsEmergency != nil {
		req.IsEmergency = *raw.IsEmergency
	} else if raw.IsEmergencyAlt != nil {
		req.IsEmergency = *raw.IsEmergencyAlt
	}

	if raw.Customer != nil {
		req.Customer = *raw.Customer
	}
	req.Customer.Name = firstNonEmpty(req.Customer.Name, raw.CustomerName)
	req.Customer.Phone = firstNonEmpty(req.Customer.Phone, raw.CustomerPhone)
	req.Customer.Email = firstNonEmpty(req.Customer.Email, raw.CustomerEmail)
	req.Customer.Address = firstNonEmpty(req.Customer.Address, raw.CustomerAddress, raw.ServiceAddress, raw.Address)

	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
