package httptransport

import (
	"encoding/json"
	"net/http"

	"warden/internal/store"
)

// TestAdminUnverify verifies validation and queued acceptance of an
// operator-initiated un-verify.
func (s *TransportSuite) TestAdminUnverify() {
	token := s.token("admin-1")

	s.Run("missing fields", func() {
		rec := s.request(http.MethodPost, "/v1/admin/unverify", `{"guild_id":"g1"}`, token)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("accepted", func() {
		rec := s.request(http.MethodPost, "/v1/admin/unverify",
			`{"guild_id":"g1","user_id":"user-1"}`, token)
		s.Equal(http.StatusAccepted, rec.Code)
		s.Equal(1, s.queue.Len())
	})
}

// TestAdminIPBans verifies the ban lifecycle over the operator routes.
func (s *TransportSuite) TestAdminIPBans() {
	token := s.token("admin-1")

	s.Run("invalid address", func() {
		rec := s.request(http.MethodPost, "/v1/admin/ipbans", `{"ip":"not-an-ip","reason":"abuse"}`, token)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("ban records the actor", func() {
		rec := s.request(http.MethodPost, "/v1/admin/ipbans", `{"ip":"203.0.113.7","reason":"abuse"}`, token)
		s.Equal(http.StatusNoContent, rec.Code)

		s.mgr.View(func(st *store.State) {
			ban := st.IPBans["203.0.113.7"]
			s.True(ban.Active)
			s.Equal("abuse", ban.Reason)
			s.Equal("admin-1", ban.BannedBy)
		})
	})

	s.Run("unban deactivates but keeps the record", func() {
		rec := s.request(http.MethodDelete, "/v1/admin/ipbans/203.0.113.7", "", token)
		s.Equal(http.StatusNoContent, rec.Code)

		s.mgr.View(func(st *store.State) {
			ban, ok := st.IPBans["203.0.113.7"]
			s.True(ok)
			s.False(ban.Active)
		})
	})

	s.Run("unban without an active ban is not found", func() {
		rec := s.request(http.MethodDelete, "/v1/admin/ipbans/203.0.113.7", "", token)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

// TestAdminSettings verifies reading and writing runtime settings.
func (s *TransportSuite) TestAdminSettings() {
	token := s.token("admin-1")

	s.Run("listing returns every key", func() {
		rec := s.request(http.MethodGet, "/v1/admin/settings", "", token)
		s.Equal(http.StatusOK, rec.Code)

		var values map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &values))
		s.Equal("3", values["max_failed_attempts"])
		s.Equal("true", values["auto_blacklist_enabled"])
	})

	s.Run("valid write is applied", func() {
		rec := s.request(http.MethodPut, "/v1/admin/settings/risk_threshold", `{"value":"0.8"}`, token)
		s.Equal(http.StatusNoContent, rec.Code)
		s.InDelta(0.8, s.config.Snapshot().RiskThreshold, 1e-9)
	})

	s.Run("invalid value is rejected", func() {
		rec := s.request(http.MethodPut, "/v1/admin/settings/risk_threshold", `{"value":"2"}`, token)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.InDelta(0.8, s.config.Snapshot().RiskThreshold, 1e-9)
	})

	s.Run("unknown key is rejected", func() {
		rec := s.request(http.MethodPut, "/v1/admin/settings/no_such_key", `{"value":"x"}`, token)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

// TestAdminAccessLists verifies blacklist and whitelist management.
func (s *TransportSuite) TestAdminAccessLists() {
	token := s.token("admin-1")

	s.Run("blacklist add and remove", func() {
		rec := s.request(http.MethodPut, "/v1/admin/blacklist/user-1", "", token)
		s.Equal(http.StatusNoContent, rec.Code)
		s.mgr.View(func(st *store.State) {
			s.True(st.InBlacklist("user-1"))
		})

		rec = s.request(http.MethodDelete, "/v1/admin/blacklist/user-1", "", token)
		s.Equal(http.StatusNoContent, rec.Code)
		s.mgr.View(func(st *store.State) {
			s.False(st.InBlacklist("user-1"))
		})
	})

	s.Run("removing an unlisted user is not found", func() {
		rec := s.request(http.MethodDelete, "/v1/admin/blacklist/user-1", "", token)
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("whitelist add is idempotent", func() {
		rec := s.request(http.MethodPut, "/v1/admin/whitelist/user-2", "", token)
		s.Equal(http.StatusNoContent, rec.Code)
		rec = s.request(http.MethodPut, "/v1/admin/whitelist/user-2", "", token)
		s.Equal(http.StatusNoContent, rec.Code)

		s.mgr.View(func(st *store.State) {
			s.True(st.InWhitelist("user-2"))
			s.Len(st.Whitelist, 2)
		})
	})
}

// TestAdminRequiresAuth verifies the operator routes sit behind the token
// check.
func (s *TransportSuite) TestAdminRequiresAuth() {
	rec := s.request(http.MethodPost, "/v1/admin/ipbans", `{"ip":"203.0.113.7"}`, "")
	s.Equal(http.StatusUnauthorized, rec.Code)
}
