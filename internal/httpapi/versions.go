package httpapi

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/events"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/release"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/icron"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

const historyLimit = 20

type channelStatus struct {
	Channel     string     `json:"channel"`
	Installed   bool       `json:"installed"`
	Version     string     `json:"version,omitempty"`
	Tag         string     `json:"tag,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
	Default     bool       `json:"default"`
}

type versionsResponse struct {
	Channels   []channelStatus         `json:"channels"`
	AutoUpdate *autoUpdateStatus       `json:"auto_update,omitempty"`
	History    []release.InstallRecord `json:"history,omitempty"`
}

type autoUpdateStatus struct {
	Channels []string           `json:"channels"`
	Trigger  *icron.TriggerInfo `json:"trigger"`
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.releases == nil {
		writeError(w, http.StatusNotImplemented, "releases are not configured")
		return
	}

	resp := versionsResponse{Channels: make([]channelStatus, 0)}
	for _, ch := range s.releases.Channels() {
		resp.Channels = append(resp.Channels, s.channelStatus(ch))
	}
	if s.schedule != nil {
		if info, err := s.schedule.TriggerInfo(time.Now()); err == nil {
			resp.AutoUpdate = &autoUpdateStatus{Channels: s.schedule.Channels(), Trigger: info}
		}
	}
	if s.history != nil {
		history, err := s.history.ListInstalls(r.Context(), "", historyLimit)
		if err != nil {
			log.Warn("Failed to list install history: %v", err)
		} else {
			resp.History = history
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) channelStatus(channel string) channelStatus {
	st := channelStatus{Channel: channel, Default: channel == s.defaultChannel}
	if s.installed == nil {
		return st
	}
	inst, err := s.installed.Installation(channel)
	if err != nil {
		return st
	}
	st.Installed = true
	st.Version = inst.Version
	st.Tag = inst.Tag
	if !inst.InstalledAt.IsZero() {
		at := inst.InstalledAt
		st.InstalledAt = &at
	}
	return st
}

func (s *Server) handleLatestRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.releases == nil {
		writeError(w, http.StatusNotImplemented, "releases are not configured")
		return
	}
	rel, err := s.releases.Latest(r.Context(), r.PathValue("channel"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

type installRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

type installResponse struct {
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) handleInstallRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.startInstall(w, r, r.PathValue("channel"))
}

// handleUpdateNightly keeps the single button update flow of the original UI:
// it always installs the nightly channel.
func (s *Server) handleUpdateNightly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.startInstall(w, r, versions.ChannelNightly)
}

func (s *Server) startInstall(w http.ResponseWriter, r *http.Request, channel string) {
	if s.releases == nil {
		writeError(w, http.StatusNotImplemented, "releases are not configured")
		return
	}
	if !slices.Contains(s.releases.Channels(), channel) {
		writeAppError(w, apperr.Newf(apperr.ErrInvalidInput, "unknown channel %q", channel))
		return
	}

	var body installRequest
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	sessionID := strings.TrimSpace(body.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.installTimeout)
	go func() {
		defer cancel()
		s.runInstall(ctx, channel, sessionID)
	}()

	writeJSON(w, http.StatusAccepted, installResponse{Channel: channel, SessionID: sessionID, Status: "started"})
}

func (s *Server) runInstall(ctx context.Context, channel, sessionID string) {
	logf := s.bus.Logf(sessionID)
	logf("Updating yt-dlp %s channel...", channel)

	inst, changed, err := s.releases.InstallRelease(ctx, channel, release.Logf(logf))
	if err != nil {
		logf("yt-dlp update failed: %v", err)
		s.bus.UpdateComplete(events.UpdateComplete{
			Success:   false,
			Channel:   channel,
			Error:     err.Error(),
			SessionID: sessionID,
		})
		return
	}

	if changed {
		logf("yt-dlp %s channel updated to %s", channel, inst.Version)
	} else {
		logf("yt-dlp %s channel is already up to date (%s)", channel, inst.Version)
	}
	s.bus.UpdateComplete(events.UpdateComplete{
		Success:    true,
		Channel:    channel,
		NewVersion: inst.Version,
		SessionID:  sessionID,
	})
}

type extractorInfoResponse struct {
	Channel string                  `json:"channel"`
	Current string                  `json:"current"`
	Status  string                  `json:"status"`
	Bound   []versions.Installation `json:"bound,omitempty"`
}

// handleExtractorInfo reports the installed version of the default channel.
func (s *Server) handleExtractorInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := s.channelStatus(s.defaultChannel)
	resp := extractorInfoResponse{Channel: st.Channel, Current: "not installed", Status: "not installed"}
	if st.Installed {
		resp.Current = st.Version
		resp.Status = "installed (" + st.Channel + ")"
	}
	if s.bindings != nil {
		resp.Bound = s.bindings.Bindings()
	}
	writeJSON(w, http.StatusOK, resp)
}
