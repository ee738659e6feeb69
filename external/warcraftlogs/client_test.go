package warcraftlogs

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grimfell/raid-awards/internal/platform/logging"
	"github.com/grimfell/raid-awards/internal/platform/resilience"
)

type fakeProvider struct {
	tokenRequests   atomic.Int64
	reportRequests  atomic.Int64
	eventRequests   atomic.Int64
	reportResponses []stubResponse
	eventResponses  []stubResponse
	server          *httptest.Server
}

type stubResponse struct {
	status int
	body   string
}

func newFakeProvider(t *testing.T, reportResponses, eventResponses []stubResponse) *fakeProvider {
	t.Helper()

	provider := &fakeProvider{
		reportResponses: reportResponses,
		eventResponses:  eventResponses,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		provider.tokenRequests.Add(1)
		if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"access_token":"token-`+fmt.Sprint(provider.tokenRequests.Load())+`","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/api/v2/client", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		payload := string(body)

		var queue *[]stubResponse
		switch {
		case strings.Contains(payload, "ReportFights"):
			provider.reportRequests.Add(1)
			queue = &provider.reportResponses
		case strings.Contains(payload, "ReportEvents"):
			provider.eventRequests.Add(1)
			queue = &provider.eventResponses
		default:
			t.Errorf("unexpected graphql operation in payload %s", payload)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if len(*queue) == 0 {
			t.Error("stub response queue exhausted")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		next := (*queue)[0]
		*queue = (*queue)[1:]
		w.WriteHeader(next.status)
		fmt.Fprint(w, next.body)
	})

	provider.server = httptest.NewServer(mux)
	t.Cleanup(provider.server.Close)
	return provider
}

func (p *fakeProvider) client(maxRetries int) *Client {
	return NewClient(ClientConfig{
		APIURL:       p.server.URL + "/api/v2/client",
		TokenURL:     p.server.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Timeout:      2 * time.Second,
		MaxRetries:   maxRetries,
		Logger:       logging.NewNop(),
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled: false,
		},
	})
}

const reportBody = `{"data":{"reportData":{"report":{
  "code":"NIGHT1",
  "startTime":1700000000000,
  "fights":[
    {"id":1,"encounterID":2902,"startTime":1000,"endTime":301000,"size":20,"kill":true,"friendlyPlayers":[1,2,3]},
    {"id":2,"encounterID":2903,"startTime":400000,"endTime":430000,"size":20,"kill":null,"friendlyPlayers":[1,2]}
  ],
  "masterData":{"actors":[
    {"id":1,"name":"Aegisar","type":"Player","subType":"Warrior","icon":"Protection"},
    {"id":2,"name":"Lumen","type":"Player","subType":"Priest","icon":"Holy"},
    {"id":3,"name":"Shivfang","type":"Player","subType":"Rogue","icon":"Assassination"}
  ]},
  "playerDetails":{"data":{"playerDetails":{
    "tanks":[{"id":1,"name":"Aegisar"}],
    "healers":[{"id":2,"name":"Lumen"}],
    "dps":[{"id":3,"name":"Shivfang"}]
  }}}
}}}}`

const fightOneEvents = `{"data":{"reportData":{"report":{"events":{"data":[
  {"type":"damage","timestamp":1700000002000,"amount":900000,"sourceID":3,"targetID":50},
  {"type":"heal","timestamp":1700000003000,"amount":40000,"overheal":15000,"sourceID":2,"targetID":1},
  {"type":"interrupt","timestamp":1700000004000,"sourceID":1,"targetID":50,"criticalHit":true},
  {"type":"death","timestamp":1700000005500,"sourceID":3,"cause":"fire","isFirstDeath":true},
  {"type":"damage","timestamp":1700000006000,"amount":5000,"sourceID":99,"targetID":1},
  {"type":"combatantinfo","timestamp":1700000001000,"sourceID":1}
],"nextPageTimestamp":null}}}}}`

const fightTwoEvents = `{"data":{"reportData":{"report":{"events":{"data":[],"nextPageTimestamp":null}}}}}`

func TestClient_FetchReport_MapsFightsRosterAndEvents(t *testing.T) {
	provider := newFakeProvider(t,
		[]stubResponse{{http.StatusOK, reportBody}},
		[]stubResponse{{http.StatusOK, fightOneEvents}, {http.StatusOK, fightTwoEvents}},
	)
	client := provider.client(0)

	report, err := client.FetchReport(t.Context(), "NIGHT1")
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if report.Code != "NIGHT1" {
		t.Fatalf("expected code NIGHT1, got=%s", report.Code)
	}
	if len(report.Fights) != 2 {
		t.Fatalf("expected 2 fights, got=%d", len(report.Fights))
	}

	kill := report.Fights[0]
	if kill.ID != "NIGHT1-1" {
		t.Fatalf("expected fight id NIGHT1-1, got=%s", kill.ID)
	}
	if kill.EncounterID != 2902 || kill.RaidSize != 20 || kill.Outcome != "KILL" {
		t.Fatalf("unexpected fight core fields: %+v", kill)
	}
	wantStart := time.UnixMilli(1700000001000).UTC()
	if !kill.StartedAt.Equal(wantStart) {
		t.Fatalf("expected start %v, got=%v", wantStart, kill.StartedAt)
	}
	if got := kill.EndedAt.Sub(kill.StartedAt); got != 300*time.Second {
		t.Fatalf("expected 300s duration, got=%v", got)
	}

	if len(kill.Roster) != 3 {
		t.Fatalf("expected 3 roster entries, got=%d", len(kill.Roster))
	}
	rolesByID := map[string]string{}
	for _, presence := range kill.Roster {
		rolesByID[presence.PlayerID] = presence.Role
	}
	if rolesByID["aegisar-1"] != "tank" || rolesByID["lumen-2"] != "healer" || rolesByID["shivfang-3"] != "dps" {
		t.Fatalf("unexpected roster roles: %v", rolesByID)
	}

	// 4 player rows map; the heal fans out an overhealing event; the
	// NPC damage row and the unknown type are dropped.
	if len(kill.Events) != 5 {
		t.Fatalf("expected 5 events, got=%d: %+v", len(kill.Events), kill.Events)
	}

	damage := kill.Events[0]
	if damage.Type != "damage_done" || damage.SourceID != "shivfang-3" {
		t.Fatalf("unexpected damage event: %+v", damage)
	}
	if damage.Magnitude == nil || *damage.Magnitude != 900000 {
		t.Fatalf("expected damage magnitude 900000, got=%v", damage.Magnitude)
	}
	if damage.OffsetMS != 1000 {
		t.Fatalf("expected offset 1000ms, got=%d", damage.OffsetMS)
	}

	heal, overheal := kill.Events[1], kill.Events[2]
	if heal.Type != "healing_done" || heal.TargetID != "aegisar-1" {
		t.Fatalf("unexpected heal event: %+v", heal)
	}
	if overheal.Type != "overhealing" || overheal.Magnitude == nil || *overheal.Magnitude != 15000 {
		t.Fatalf("unexpected overheal event: %+v", overheal)
	}

	interrupt := kill.Events[3]
	if interrupt.Type != "interrupt" || !interrupt.Critical {
		t.Fatalf("unexpected interrupt event: %+v", interrupt)
	}

	death := kill.Events[4]
	if death.Type != "death" || death.Tag != "fire" || !death.FirstSeen {
		t.Fatalf("unexpected death event: %+v", death)
	}

	reset := report.Fights[1]
	if reset.Outcome != "RESET" {
		t.Fatalf("expected RESET outcome for null kill, got=%s", reset.Outcome)
	}

	if got := provider.tokenRequests.Load(); got != 1 {
		t.Fatalf("expected a single token fetch, got=%d", got)
	}
}

func TestClient_FetchFightEvents_FollowsPagination(t *testing.T) {
	pageOne := `{"data":{"reportData":{"report":{"events":{"data":[
	  {"type":"damage","timestamp":1700000002000,"amount":100,"sourceID":1}
	],"nextPageTimestamp":150000}}}}}`
	pageTwo := `{"data":{"reportData":{"report":{"events":{"data":[
	  {"type":"damage","timestamp":1700000150000,"amount":200,"sourceID":1}
	],"nextPageTimestamp":null}}}}}`

	singleFightReport := `{"data":{"reportData":{"report":{
	  "code":"NIGHT2","startTime":1700000000000,
	  "fights":[{"id":1,"encounterID":2902,"startTime":1000,"endTime":301000,"size":20,"kill":true,"friendlyPlayers":[1]}],
	  "masterData":{"actors":[{"id":1,"name":"Aegisar","type":"Player","subType":"Warrior","icon":"Protection"}]},
	  "playerDetails":{"data":{"playerDetails":{"tanks":[{"id":1,"name":"Aegisar"}],"healers":[],"dps":[]}}}
	}}}}`

	provider := newFakeProvider(t,
		[]stubResponse{{http.StatusOK, singleFightReport}},
		[]stubResponse{{http.StatusOK, pageOne}, {http.StatusOK, pageTwo}},
	)
	client := provider.client(0)

	report, err := client.FetchReport(t.Context(), "NIGHT2")
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if len(report.Fights) != 1 || len(report.Fights[0].Events) != 2 {
		t.Fatalf("expected 2 events across pages, got=%+v", report.Fights)
	}
	if got := provider.eventRequests.Load(); got != 2 {
		t.Fatalf("expected 2 event pages fetched, got=%d", got)
	}
}

func TestClient_FetchReport_RetriesTransientStatus(t *testing.T) {
	emptyReport := `{"data":{"reportData":{"report":{
	  "code":"NIGHT3","startTime":1700000000000,"fights":[],
	  "masterData":{"actors":[]},
	  "playerDetails":{"data":{"playerDetails":{"tanks":[],"healers":[],"dps":[]}}}
	}}}}`

	provider := newFakeProvider(t,
		[]stubResponse{{http.StatusInternalServerError, `boom`}, {http.StatusOK, emptyReport}},
		nil,
	)
	client := provider.client(1)

	report, err := client.FetchReport(t.Context(), "NIGHT3")
	if err != nil {
		t.Fatalf("expected retry to recover, got err=%v", err)
	}
	if report.Code != "NIGHT3" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := provider.reportRequests.Load(); got != 2 {
		t.Fatalf("expected 2 report attempts, got=%d", got)
	}
}

func TestClient_FetchReport_RefreshesTokenOnUnauthorized(t *testing.T) {
	emptyReport := `{"data":{"reportData":{"report":{
	  "code":"NIGHT4","startTime":1700000000000,"fights":[],
	  "masterData":{"actors":[]},
	  "playerDetails":{"data":{"playerDetails":{"tanks":[],"healers":[],"dps":[]}}}
	}}}}`

	provider := newFakeProvider(t,
		[]stubResponse{{http.StatusUnauthorized, `{"error":"invalid_token"}`}, {http.StatusOK, emptyReport}},
		nil,
	)
	client := provider.client(1)

	if _, err := client.FetchReport(t.Context(), "NIGHT4"); err != nil {
		t.Fatalf("expected refresh to recover, got err=%v", err)
	}
	if got := provider.tokenRequests.Load(); got != 2 {
		t.Fatalf("expected token re-fetch after 401, got=%d", got)
	}
}

func TestClient_FetchReport_NonRetryableStatusFailsFast(t *testing.T) {
	provider := newFakeProvider(t,
		[]stubResponse{{http.StatusBadRequest, `{"error":"bad query"}`}},
		nil,
	)
	client := provider.client(3)

	if _, err := client.FetchReport(t.Context(), "NIGHT5"); err == nil {
		t.Fatal("expected error for non-retryable status")
	}
	if got := provider.reportRequests.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got=%d", got)
	}
}

func TestClient_FetchReport_SurfacesGraphQLErrors(t *testing.T) {
	provider := newFakeProvider(t,
		[]stubResponse{{http.StatusOK, `{"errors":[{"message":"report does not exist"}],"data":null}`}},
		nil,
	)
	client := provider.client(0)

	_, err := client.FetchReport(t.Context(), "MISSING")
	if err == nil || !strings.Contains(err.Error(), "report does not exist") {
		t.Fatalf("expected graphql error to surface, got=%v", err)
	}
}
