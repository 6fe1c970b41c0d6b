// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentmesh/rentmesh/internal/booking"
	"github.com/rentmesh/rentmesh/internal/domain"
)

type createBookingBody struct {
	SourceID         string               `json:"source_id"`
	AgreementRef     string               `json:"agreement_ref"`
	SupplierOfferRef string               `json:"supplier_offer_ref,omitempty"`
	AgentBookingRef  string               `json:"agent_booking_ref,omitempty"`
	Rental           domain.RentalDetails `json:"rental"`
	CustomerInfo     json.RawMessage      `json:"customer_info,omitempty"`
	PaymentInfo      json.RawMessage      `json:"payment_info,omitempty"`
}

func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := booking.CreateRequest{
		SourceID:         body.SourceID,
		AgreementRef:     body.AgreementRef,
		SupplierOfferRef: body.SupplierOfferRef,
		IdempotencyKey:   r.Header.Get("Idempotency-Key"),
		AgentBookingRef:  body.AgentBookingRef,
		Rental:           body.Rental,
		CustomerInfo:     body.CustomerInfo,
		PaymentInfo:      body.PaymentInfo,
	}
	b, err := s.Bookings.Create(r.Context(), principalFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, bookingView(b))
}

func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Bookings.Get(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bookingView(b))
}

func (s *Server) bookingHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.Bookings.History(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]historyEventView, 0, len(events))
	for _, ev := range events {
		out = append(out, historyEventView{
			EventType:   string(ev.EventType),
			Changes:     ev.Changes,
			Actor:       ev.Actor,
			ActorSource: string(ev.ActorSource),
			Timestamp:   ev.Timestamp,
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"events": out})
}

type bookingRefBody struct {
	SourceID           string `json:"source_id"`
	SupplierBookingRef string `json:"supplier_booking_ref"`
	AgreementRef       string `json:"agreement_ref,omitempty"`
}

type modifyBookingBody struct {
	bookingRefBody
	Rental domain.RentalDetails `json:"rental"`
}

func (s *Server) modifyBooking(w http.ResponseWriter, r *http.Request) {
	var body modifyBookingBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bookings.Modify(r.Context(), principalFrom(r.Context()), booking.ModifyRequest{
		SourceID:           body.SourceID,
		SupplierBookingRef: body.SupplierBookingRef,
		AgreementRef:       body.AgreementRef,
		Rental:             body.Rental,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bookingView(b))
}

func (s *Server) cancelBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingRefBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bookings.Cancel(r.Context(), principalFrom(r.Context()), body.SourceID, body.SupplierBookingRef, body.AgreementRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bookingView(b))
}

func (s *Server) checkBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingRefBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bookings.Check(r.Context(), principalFrom(r.Context()), body.SourceID, body.SupplierBookingRef, body.AgreementRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bookingView(b))
}
