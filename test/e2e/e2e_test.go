//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/verity-labs/docvox/internal/service"
)

const shippingFAQ = `Shipping policy.

We ship worldwide from our warehouse in Rotterdam. Standard delivery takes
three to five business days inside the EU and up to ten days elsewhere.

Returns policy.

Unused items can be returned within thirty days for a full refund. Return
shipping is free for EU customers.`

type documentData struct {
	ID           string `json:"id"`
	WebsiteID    string `json:"website_id"`
	FileName     string `json:"file_name"`
	Status       string `json:"status"`
	Checksum     string `json:"checksum"`
	SizeBytes    int64  `json:"size_bytes"`
	FailedChunks int    `json:"failed_chunks"`
}

func ingestDocument(t *testing.T, env *E2ETestEnv, websiteID, fileName, text string) documentData {
	resp, err := env.Post(fmt.Sprintf("/v1/websites/%s/documents", websiteID), map[string]string{
		"file_name": fileName,
		"text":      text,
	})
	if err != nil {
		t.Fatalf("failed to ingest document: %v", err)
	}

	var doc documentData
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		t.Fatalf("failed to parse document response: %v", err)
	}
	if doc.Status != "pending" {
		t.Fatalf("expected pending document, got %q", doc.Status)
	}
	return doc
}

func TestE2E_DocumentLifecycle(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	website := env.CreateWebsite("Acme Store", "acme.example")
	env.AuthToken = env.CreateAPIKey(website.ID)
	doc := ingestDocument(t, env, website.ID, "faq.md", shippingFAQ)

	// Raw text is stored before processing.
	raw, err := env.S3Client.GetObject(env.Ctx, fmt.Sprintf("documents/%s/%s", website.ID, doc.ID))
	if err != nil {
		t.Fatalf("failed to fetch stored object: %v", err)
	}
	if string(raw) != shippingFAQ {
		t.Fatalf("stored object does not match submitted text")
	}

	env.ProcessPendingDocuments()

	resp, err := env.Get(fmt.Sprintf("/v1/websites/%s/documents/%s", website.ID, doc.ID))
	if err != nil {
		t.Fatalf("failed to get document: %v", err)
	}
	var processed documentData
	if err := json.Unmarshal(resp.Data, &processed); err != nil {
		t.Fatalf("failed to parse document: %v", err)
	}
	if processed.Status != "ready" {
		t.Fatalf("expected ready document, got %q", processed.Status)
	}
	if processed.FailedChunks != 0 {
		t.Fatalf("expected no failed chunks, got %d", processed.FailedChunks)
	}

	var chunkCount int
	if err := env.Pool.QueryRow(env.Ctx,
		"SELECT COUNT(*) FROM document_chunks WHERE document_id = $1", doc.ID).Scan(&chunkCount); err != nil {
		t.Fatalf("failed to count chunks: %v", err)
	}
	if chunkCount == 0 {
		t.Fatal("expected chunks after processing")
	}

	listResp, err := env.Get(fmt.Sprintf("/v1/websites/%s/documents", website.ID))
	if err != nil {
		t.Fatalf("failed to list documents: %v", err)
	}
	var page struct {
		Items   []documentData `json:"items"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(listResp.Data, &page); err != nil {
		t.Fatalf("failed to parse list response: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != doc.ID {
		t.Fatalf("unexpected document list: %+v", page.Items)
	}

	if _, err := env.Delete(fmt.Sprintf("/v1/websites/%s/documents/%s", website.ID, doc.ID)); err != nil {
		t.Fatalf("failed to delete document: %v", err)
	}

	if _, err := env.Get(fmt.Sprintf("/v1/websites/%s/documents/%s", website.ID, doc.ID)); err == nil {
		t.Fatal("expected 404 after delete")
	}
	if err := env.Pool.QueryRow(env.Ctx,
		"SELECT COUNT(*) FROM document_chunks WHERE document_id = $1", doc.ID).Scan(&chunkCount); err != nil {
		t.Fatalf("failed to count chunks: %v", err)
	}
	if chunkCount != 0 {
		t.Fatalf("expected chunks to cascade on delete, found %d", chunkCount)
	}
	if _, err := env.S3Client.GetObject(env.Ctx, fmt.Sprintf("documents/%s/%s", website.ID, doc.ID)); err == nil {
		t.Fatal("expected stored object to be deleted")
	}
}

func TestE2E_TenantIsolation(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	acme := env.CreateWebsite("Acme Store", "acme.example")
	other := env.CreateWebsite("Other Shop", "other.example")
	acmeToken := env.CreateAPIKey(acme.ID)
	otherToken := env.CreateAPIKey(other.ID)

	env.AuthToken = acmeToken
	doc := ingestDocument(t, env, acme.ID, "faq.md", shippingFAQ)
	env.ProcessPendingDocuments()

	// Another tenant cannot see or delete the document, even with its
	// own valid key.
	env.AuthToken = otherToken
	if _, err := env.Get(fmt.Sprintf("/v1/websites/%s/documents/%s", other.ID, doc.ID)); err == nil {
		t.Fatal("expected cross-tenant read to 404")
	}
	if _, err := env.Delete(fmt.Sprintf("/v1/websites/%s/documents/%s", other.ID, doc.ID)); err == nil {
		t.Fatal("expected cross-tenant delete to 404")
	}

	// A key scoped to one website cannot address another website's routes.
	env.AuthToken = acmeToken
	if _, err := env.Get(fmt.Sprintf("/v1/websites/%s/documents/%s", other.ID, doc.ID)); err == nil ||
		!strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 for mismatched key, got %v", err)
	}

	resp, err := env.Get(fmt.Sprintf("/v1/websites/%s/documents/%s", acme.ID, doc.ID))
	if err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	var owned documentData
	if err := json.Unmarshal(resp.Data, &owned); err != nil {
		t.Fatalf("failed to parse document: %v", err)
	}
	if owned.Status != "ready" {
		t.Fatalf("expected ready document, got %q", owned.Status)
	}
}

func TestE2E_DocumentRoutesRequireAPIKey(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	website := env.CreateWebsite("Acme Store", "acme.example")

	// No credential at all.
	_, err := env.Post(fmt.Sprintf("/v1/websites/%s/documents", website.ID), map[string]string{
		"file_name": "faq.md",
		"text":      shippingFAQ,
	})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 without api key, got %v", err)
	}

	// A revoked key stops working.
	env.AuthToken = env.CreateAPIKey(website.ID)
	keys, err := env.AuthSvc.ListAPIKeys(env.Ctx, website.ID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected one api key, got %v (%v)", keys, err)
	}
	if err := env.AuthSvc.RevokeAPIKey(env.Ctx, keys[0].ID); err != nil {
		t.Fatalf("failed to revoke api key: %v", err)
	}
	_, err = env.Get(fmt.Sprintf("/v1/websites/%s/documents", website.ID))
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 with revoked key, got %v", err)
	}
}

func TestE2E_ChatStream(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	website := env.CreateWebsite("Acme Store", "acme.example")
	ingestDocument(t, env, website.ID, "faq.md", shippingFAQ)
	env.ProcessPendingDocuments()

	events, resp, err := env.StreamChat("https://acme.example", map[string]string{
		"public_key": website.PublicKey,
		"session_id": "sess-1",
		"visitor_id": "vis-1",
		"message":    "how long does shipping take inside the EU?",
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(events) == 0 {
		t.Fatal("expected stream events")
	}

	var tokenTexts []string
	finals := 0
	for i, event := range events {
		switch event.Type {
		case service.EventTypeToken:
			if event.Token.Seq != i {
				t.Fatalf("token %d has seq %d", i, event.Token.Seq)
			}
			tokenTexts = append(tokenTexts, event.Token.Text)
		case service.EventTypeFinal:
			finals++
			if i != len(events)-1 {
				t.Fatal("final event must terminate the stream")
			}
			if event.Final.Error != nil {
				t.Fatalf("unexpected stream error: %+v", event.Final.Error)
			}
			if event.Final.Message != strings.Join(tokenTexts, "") {
				t.Fatalf("final message %q does not match tokens %q",
					event.Final.Message, strings.Join(tokenTexts, ""))
			}
			if event.Final.UsedDocuments == 0 {
				t.Fatal("expected retrieval to ground the answer in the document")
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final event, got %d", finals)
	}

	// Both turns were persisted against the session.
	var messageCount int
	if err := env.Pool.QueryRow(env.Ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN chats c ON c.id = m.chat_id
		 WHERE c.website_id = $1 AND c.session_id = $2`,
		website.ID, "sess-1").Scan(&messageCount); err != nil {
		t.Fatalf("failed to count messages: %v", err)
	}
	if messageCount != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", messageCount)
	}

	// A second turn reuses the same chat row.
	if _, _, err := env.StreamChat("https://acme.example", map[string]string{
		"public_key": website.PublicKey,
		"session_id": "sess-1",
		"message":    "and what about returns?",
	}); err != nil {
		t.Fatalf("second stream failed: %v", err)
	}

	var chatCount int
	if err := env.Pool.QueryRow(env.Ctx,
		"SELECT COUNT(*) FROM chats WHERE website_id = $1", website.ID).Scan(&chatCount); err != nil {
		t.Fatalf("failed to count chats: %v", err)
	}
	if chatCount != 1 {
		t.Fatalf("expected one chat row, got %d", chatCount)
	}
}

func TestE2E_ChatStream_OriginRejected(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	website := env.CreateWebsite("Acme Store", "acme.example")

	_, resp, err := env.StreamChat("https://evil.example", map[string]string{
		"public_key": website.PublicKey,
		"session_id": "sess-1",
		"message":    "hi",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestE2E_ChatStream_UnknownPublicKey(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	key, err := service.GeneratePublicKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	_, resp, err := env.StreamChat("", map[string]string{
		"public_key": key,
		"session_id": "sess-1",
		"message":    "hi",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
