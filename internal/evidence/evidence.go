// Package evidence builds the Rotation Evidence Pack (REP): a
// tamper-evident, hash-chained bundle of artifacts produced by a
// completed rotation, written under
// <output_directory>/<tenant_id>/<rotation_date>/ with file and pack
// level SHA-256 digests and an optional signature over the pack hash.
package evidence

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/systmms/signctl/internal/config"
	"github.com/systmms/signctl/internal/ctlerrors"
	"github.com/systmms/signctl/internal/logging"
	"github.com/systmms/signctl/internal/policy"
	"github.com/systmms/signctl/internal/rotationengine"
)

// Store is the narrow slice of store.Store the evidence builder needs:
// the policy snapshot a pack is built from.
type Store interface {
	GetPolicy(ctx context.Context, tenantID string) (*policy.Policy, error)
}

// SignBackend is the narrow slice of backend.SignBackend used for
// attestation self-checks and, when configured, signing the pack hash
// with the tenant's operations key.
type SignBackend interface {
	SignES256(ctx context.Context, keyID string, digest []byte) ([]byte, error)
	PubKeyPEM(ctx context.Context, keyID string) (string, error)
	BackendKind() string
}

// BackendResolver maps a tenant to the SignBackend the attestation and
// pack-signing steps call, kept local for the same import-cycle reason
// as rotationengine.BackendResolver.
type BackendResolver interface {
	ResolveBackend(ctx context.Context, tenantID string) (SignBackend, error)
}

// Builder assembles and writes a Rotation Evidence Pack. resolver may be
// nil, in which case attestation and pack signing are skipped.
type Builder struct {
	cfg      config.EvidenceConfig
	store    Store
	resolver BackendResolver
	log      *logging.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(cfg config.EvidenceConfig, st Store, resolver BackendResolver, log *logging.Logger) *Builder {
	if log == nil {
		log = logging.Nop()
	}
	return &Builder{cfg: cfg, store: st, resolver: resolver, log: log}
}

// packFile is one member of the evidence bundle, in write order.
type packFile struct {
	name string
	data []byte
}

type packIndexFile struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

type packIndex struct {
	PackID    string          `json:"pack_id"`
	CreatedAt string          `json:"created_at"`
	Version   int             `json:"version"`
	Files     []packIndexFile `json:"files"`
	Generator string          `json:"generator"`
}

// BuildPack implements rotationengine.EvidenceBuilder. It is deterministic
// in (tenant_id, rotation_date, new_key_handle) and the policy snapshot at
// build time: rebuilding against identical inputs reproduces every file
// except 03-attestation.json, whose self-check necessarily performs a
// fresh signature.
func (b *Builder) BuildPack(ctx context.Context, in rotationengine.EvidencePackInputs) (string, error) {
	const op = "evidence.BuildPack"

	if b.cfg.OutputDirectory == "" {
		return "", ctlerrors.New(ctlerrors.InvalidInput, op, "no output_directory configured").WithTenant(in.TenantID)
	}

	p, err := b.store.GetPolicy(ctx, in.TenantID)
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(in.TenantID)
	}

	dir := filepath.Join(b.cfg.OutputDirectory, in.TenantID, in.RotationDate)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(in.TenantID)
	}

	builtAt, perr := time.Parse("2006-01-02", in.RotationDate)
	if perr != nil {
		builtAt = time.Now().UTC()
	}

	var files []packFile

	policyJSON, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(in.TenantID)
	}
	files = append(files, packFile{"00-policy.json", policyJSON})
	files = append(files, packFile{"01-pre-fingerprint.txt", b.fingerprint(in, p, builtAt)})

	if in.NewKeyHandle != "" && in.CSRPEM != "" {
		files = append(files, packFile{"02-csr.pem", []byte(in.CSRPEM)})
	}
	if in.CertPEM != "" {
		files = append(files, packFile{"02a-new-cert.pem", []byte(in.CertPEM)})
	}
	if len(in.CertChain) > 0 {
		files = append(files, packFile{"02b-chain.pem", []byte(strings.Join(in.CertChain, "\n"))})
	}

	if b.cfg.IncludeAttestation {
		if doc, ok := b.attestation(ctx, in); ok {
			attJSON, aerr := json.MarshalIndent(doc, "", "  ")
			if aerr != nil {
				b.log.WithTenant(in.TenantID).Errorw("failed to marshal attestation", "error", aerr)
			} else {
				files = append(files, packFile{"03-attestation.json", attJSON})
			}
		}
	}

	files = append(files, packFile{"04-canary.csv", canaryCSV(in.Canary)})
	files = append(files, packFile{"05-rotation-statement.pdf", renderStatementPDF(in, p, builtAt)})

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	files = append(files, packFile{"06-digests.sha256", digestLines(files)})

	packID := fmt.Sprintf("%x", sha256.Sum256([]byte(in.TenantID+"|"+in.RotationDate+"|"+in.NewKeyHandle)))
	idx := packIndex{
		PackID:    packID,
		CreatedAt: builtAt.UTC().Format(time.RFC3339),
		Version:   1,
		Generator: "signctl-evidence-builder",
	}
	for _, f := range files {
		sum := sha256.Sum256(f.data)
		idx.Files = append(idx.Files, packIndexFile{Name: f.name, Hash: "sha256:" + hex.EncodeToString(sum[:])})
	}
	idxJSON, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(in.TenantID)
	}
	files = append(files, packFile{"07-pack.json", idxJSON})

	for _, f := range files {
		if err := writeAtomic(filepath.Join(dir, f.name), f.data); err != nil {
			return "", ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(in.TenantID)
		}
	}

	packHash := computePackHash(files)

	if b.cfg.SignWithOpsKey && b.resolver != nil {
		sig, serr := b.signPack(ctx, in.TenantID, packHash)
		if serr != nil {
			b.log.WithTenant(in.TenantID).Errorw("failed to sign evidence pack", "error", serr)
		} else if werr := writeAtomic(filepath.Join(dir, "07-pack.signature"), sig); werr != nil {
			b.log.WithTenant(in.TenantID).Errorw("failed to write pack signature", "error", werr)
		} else {
			files = append(files, packFile{"07-pack.signature", sig})
		}
	}

	if err := writeZip(dir+".zip", files); err != nil {
		b.log.WithTenant(in.TenantID).Errorw("failed to write evidence pack zip", "error", err)
	}

	return packHash, nil
}

func (b *Builder) fingerprint(in rotationengine.EvidencePackInputs, p *policy.Policy, builtAt time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tenant_id: %s\n", in.TenantID)
	fmt.Fprintf(&buf, "rotation_date: %s\n", in.RotationDate)
	fmt.Fprintf(&buf, "captured_at: %s\n", builtAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "policy_hash: %s\n", p.PolicyHash)
	fmt.Fprintf(&buf, "previous_handle: %s\n", in.OldKeyHandle)
	fmt.Fprintf(&buf, "new_handle: %s\n", in.NewKeyHandle)
	k := p.Key
	fmt.Fprintf(&buf, "key %s: backend=%s algorithm=%s not_before=%s not_after=%s\n",
		k.KeyID, k.BackendKind, k.Algorithm,
		k.NotBefore.UTC().Format(time.RFC3339), k.NotAfter.UTC().Format(time.RFC3339))
	return buf.Bytes()
}

func canaryCSV(rows []rotationengine.CanaryRecord) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"asset_url", "old_hash", "new_hash", "verify_url", "status"})
	for _, r := range rows {
		_ = w.Write([]string{r.AssetURL, r.OldHash, r.NewHash, r.VerifyURL, r.Status})
	}
	w.Flush()
	return buf.Bytes()
}

// digestLines implements 06-digests.sha256: one SHA-256 per preceding
// file, in the canonical (already-sorted) name order.
func digestLines(files []packFile) []byte {
	var buf bytes.Buffer
	for _, f := range files {
		sum := sha256.Sum256(f.data)
		fmt.Fprintf(&buf, "sha256:%s  %s\n", hex.EncodeToString(sum[:]), f.name)
	}
	return buf.Bytes()
}

// computePackHash is the pack hash: sha256 of the concatenation of file
// bytes in ascending filename order, computed over every file written to
// disk (00 through 07, excluding the signature, which is derived from
// this value and so cannot be part of it).
func computePackHash(files []packFile) string {
	h := sha256.New()
	for _, f := range files {
		h.Write(f.data)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func (b *Builder) signPack(ctx context.Context, tenantID, packHash string) ([]byte, error) {
	be, err := b.resolver.ResolveBackend(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256([]byte(packHash))
	return be.SignES256(ctx, b.cfg.OpsKeyID, digest[:])
}

// writeAtomic writes data to a .tmp sibling of path and renames it into
// place, so a process killed mid-write never leaves a partially written
// file at the final name.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// writeZip packages files into a ZIP archive at path, written the same
// atomic way as the individual pack files.
func writeZip(path string, files []packFile) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	for _, pf := range files {
		w, werr := zw.Create(pf.name)
		if werr != nil {
			_ = zw.Close()
			_ = f.Close()
			return werr
		}
		if _, werr := w.Write(pf.data); werr != nil {
			_ = zw.Close()
			_ = f.Close()
			return werr
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
