package storage

import (
	"database/sql"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetSetting("serverId"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := s.SetSetting("serverId", "abc123"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	val, ok, err := s.GetSetting("serverId")
	if err != nil || !ok || val != "abc123" {
		t.Fatalf("GetSetting = %q, %v, %v; want abc123, true, nil", val, ok, err)
	}
	if err := s.SetSetting("serverId", "xyz789"); err != nil {
		t.Fatalf("SetSetting (update): %v", err)
	}
	val, _, _ = s.GetSetting("serverId")
	if val != "xyz789" {
		t.Errorf("GetSetting after update = %q, want xyz789", val)
	}
}

func TestPairedClientUpsertAndTokenValidation(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	c := PairedClient{
		ClientID: "client-1", Token: "token-v1", HostName: "lab-pc-07",
		TokenExpiresUtc: now.Add(time.Hour).Unix(),
	}
	if err := s.UpsertPairedClient(c); err != nil {
		t.Fatalf("UpsertPairedClient: %v", err)
	}

	ok, err := s.ValidateToken("client-1", "token-v1", now)
	if err != nil || !ok {
		t.Fatalf("ValidateToken = %v, %v; want true, nil", ok, err)
	}
	if ok, _ := s.ValidateToken("client-1", "wrong-token", now); ok {
		t.Errorf("ValidateToken accepted a wrong token")
	}
	if ok, _ := s.ValidateToken("client-1", "token-v1", now.Add(2*time.Hour)); ok {
		t.Errorf("ValidateToken accepted an expired token")
	}

	// Re-pair rotates the token.
	c.Token = "token-v2"
	if err := s.UpsertPairedClient(c); err != nil {
		t.Fatalf("UpsertPairedClient (re-pair): %v", err)
	}
	if ok, _ := s.ValidateToken("client-1", "token-v1", now); ok {
		t.Errorf("old token still validates after re-pair")
	}
	if ok, _ := s.ValidateToken("client-1", "token-v2", now); !ok {
		t.Errorf("new token does not validate after re-pair")
	}
}

func TestRevokePairedClient(t *testing.T) {
	s := newTestStore(t)
	c := PairedClient{ClientID: "client-2", Token: "t", TokenExpiresUtc: time.Now().Add(time.Hour).Unix()}
	if err := s.UpsertPairedClient(c); err != nil {
		t.Fatalf("UpsertPairedClient: %v", err)
	}
	if err := s.RevokePairedClient("client-2"); err != nil {
		t.Fatalf("RevokePairedClient: %v", err)
	}
	if _, err := s.GetPairedClient("client-2"); err != sql.ErrNoRows {
		t.Errorf("GetPairedClient after revoke = %v, want sql.ErrNoRows", err)
	}
	if err := s.RevokePairedClient("client-2"); err != sql.ErrNoRows {
		t.Errorf("RevokePairedClient (already gone) = %v, want sql.ErrNoRows", err)
	}
}

func TestAuditLogOrdering(t *testing.T) {
	s := newTestStore(t)
	for _, action := range []string{"pair", "chat", "revoke"} {
		if err := s.InsertAuditLog(action, "teacher", "{}"); err != nil {
			t.Fatalf("InsertAuditLog(%s): %v", action, err)
		}
	}
	entries, err := s.GetLatestAudit(2)
	if err != nil {
		t.Fatalf("GetLatestAudit: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != "revoke" || entries[1].Action != "chat" {
		t.Errorf("GetLatestAudit = %+v, want [revoke chat]", entries)
	}
}

func TestTransferChunkTrackingAndMissing(t *testing.T) {
	s := newTestStore(t)
	tr := TransferRecord{
		TransferID: "tfr-1", FileName: "lesson.pdf", Sha256: "ABCD",
		FileSize: 2000, ChunkSize: 256, TotalChunks: 8,
	}
	if err := s.CreateTransfer(tr); err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}

	for _, idx := range []int{0, 2, 3, 7} {
		if err := s.RecordChunk("tfr-1", idx, "hash"); err != nil {
			t.Fatalf("RecordChunk(%d): %v", idx, err)
		}
	}
	// Idempotent re-upload.
	if err := s.RecordChunk("tfr-1", 0, "hash"); err != nil {
		t.Fatalf("RecordChunk (dup): %v", err)
	}

	n, err := s.UploadedChunkCount("tfr-1")
	if err != nil || n != 4 {
		t.Fatalf("UploadedChunkCount = %d, %v; want 4, nil", n, err)
	}

	missing, err := s.MissingChunks("tfr-1")
	if err != nil {
		t.Fatalf("MissingChunks: %v", err)
	}
	want := []int{1, 4, 5, 6}
	if len(missing) != len(want) {
		t.Fatalf("MissingChunks = %v, want %v", missing, want)
	}
	for i, v := range want {
		if missing[i] != v {
			t.Errorf("MissingChunks[%d] = %d, want %d", i, missing[i], v)
		}
	}

	has, err := s.HasChunk("tfr-1", 7)
	if err != nil || !has {
		t.Errorf("HasChunk(7) = %v, %v; want true, nil", has, err)
	}
	has, err = s.HasChunk("tfr-1", 1)
	if err != nil || has {
		t.Errorf("HasChunk(1) = %v, %v; want false, nil", has, err)
	}
}

func TestGroupUpsertRenameAndMembership(t *testing.T) {
	s := newTestStore(t)

	g := ClassroomGroup{GroupID: "grp-1", Name: "front row", MemberClientIDs: []string{"c1", "c2"}}
	if err := s.UpsertGroup(g); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}

	groups, err := s.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "front row" || len(groups[0].MemberClientIDs) != 2 {
		t.Fatalf("ListGroups = %+v, want one group named %q with 2 members", groups, "front row")
	}

	// Rename and replace membership wholesale.
	g.Name = "makeup work"
	g.MemberClientIDs = []string{"c3"}
	if err := s.UpsertGroup(g); err != nil {
		t.Fatalf("UpsertGroup (rename): %v", err)
	}
	groups, err = s.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "makeup work" || len(groups[0].MemberClientIDs) != 1 || groups[0].MemberClientIDs[0] != "c3" {
		t.Fatalf("ListGroups after rename = %+v, want one group named %q with [c3]", groups, "makeup work")
	}
}

func TestDeleteGroup(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertGroup(ClassroomGroup{GroupID: "grp-2", Name: "back row"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := s.DeleteGroup("grp-2"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	groups, err := s.ListGroups()
	if err != nil || len(groups) != 0 {
		t.Fatalf("ListGroups after delete = %+v, %v; want empty", groups, err)
	}
	if err := s.DeleteGroup("grp-2"); err != sql.ErrNoRows {
		t.Errorf("DeleteGroup (already gone) = %v, want sql.ErrNoRows", err)
	}
}

func TestAnnouncementBannerRoundTripAndReplace(t *testing.T) {
	s := newTestStore(t)

	a, err := s.GetAnnouncement()
	if err != nil {
		t.Fatalf("GetAnnouncement (unset): %v", err)
	}
	if a != (AnnouncementBanner{}) {
		t.Fatalf("GetAnnouncement (unset) = %+v, want zero value", a)
	}

	first := AnnouncementBanner{Text: "fire drill at 2pm", PostedBy: "teacher-console", PostedAtUtc: 1_700_000_000_000}
	if err := s.SetAnnouncement(first); err != nil {
		t.Fatalf("SetAnnouncement: %v", err)
	}
	got, err := s.GetAnnouncement()
	if err != nil || got != first {
		t.Fatalf("GetAnnouncement = %+v, %v; want %+v, nil", got, err, first)
	}

	second := AnnouncementBanner{Text: "drill cancelled", PostedBy: "teacher-console", PostedAtUtc: 1_700_000_100_000}
	if err := s.SetAnnouncement(second); err != nil {
		t.Fatalf("SetAnnouncement (replace): %v", err)
	}
	got, err = s.GetAnnouncement()
	if err != nil || got != second {
		t.Fatalf("GetAnnouncement after replace = %+v, %v; want %+v, nil", got, err, second)
	}
}
