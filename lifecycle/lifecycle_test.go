package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stint-dev/stint-core/config"
	pexec "github.com/stint-dev/stint-core/exec"
	"github.com/stint-dev/stint-core/git"
	"github.com/stint-dev/stint-core/logger"
	"github.com/stint-dev/stint-core/store"
	"github.com/stint-dev/stint-core/task"
	"github.com/stint-dev/stint-core/workspace"
)

var ctx = context.Background()

// cloningExecutor backs the mock: it creates the destination directory of a
// clone so the filesystem matches what the scripted git would have done, and
// reports empty success for everything else.
type cloningExecutor struct{}

func (cloningExecutor) run(args []string) {
	if len(args) > 0 && args[0] == "clone" {
		_ = os.MkdirAll(args[len(args)-1], 0755)
	}
}

func (e cloningExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	e.run(args)
	return nil, nil, nil
}

func (e cloningExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	e.run(args)
	return nil, nil
}

func (e cloningExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	e.run(args)
	return nil, nil
}

type testEnv struct {
	deps     Deps
	mock     *pexec.MockExecutor
	store    *store.Store
	tasks    *task.Registry
	root     string // central workspaces dir
	repoRoot string // the original repository checkout
	outside  string // a directory outside any workspace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	_ = logger.Init(filepath.Join(t.TempDir(), "stint.log"))

	dir := t.TempDir()
	root := filepath.Join(dir, "workspaces")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	repoRoot := filepath.Join(dir, "origin-proj")
	if err := os.MkdirAll(repoRoot, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tasksFile := filepath.Join(dir, "tasks.md")
	if err := os.WriteFile(tasksFile, []byte("- [ ] md#42 Implement login\n"), 0644); err != nil {
		t.Fatalf("write tasks: %v", err)
	}

	st := store.Open(filepath.Join(dir, "sessions.json"), root, "md")
	registry := task.NewRegistry("md", task.NewMarkdownBackend(tasksFile))
	mock := pexec.NewMockExecutor(cloningExecutor{})

	env := &testEnv{
		mock:     mock,
		store:    st,
		tasks:    registry,
		root:     root,
		repoRoot: repoRoot,
		outside:  t.TempDir(),
	}
	env.deps = Deps{
		Store:    st,
		Git:      git.NewGatewayWithExecutor(mock),
		Tasks:    registry,
		Detector: workspace.NewDetector(st),
		Settings: &config.Settings{BaseBranch: "main"},
	}
	return env
}

// startSession runs a successful Start for md#42 and returns the result.
func (env *testEnv) startSession(t *testing.T) *StartResult {
	t.Helper()
	result, err := Start(ctx, StartParams{Task: "md#42", Repo: env.repoRoot, Dir: env.outside}, env.deps)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return result
}

func callIndex(calls []pexec.MockCall, prefix ...string) int {
	for i, c := range calls {
		if len(c.Args) < len(prefix) {
			continue
		}
		ok := true
		for j, p := range prefix {
			if c.Args[j] != p {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

func TestStart_RegistersSessionForTask(t *testing.T) {
	env := newTestEnv(t)

	result := env.startSession(t)
	if result.Record.Name != "task-md#42" {
		t.Errorf("expected session task-md#42, got %q", result.Record.Name)
	}
	if result.Record.Branch != "task-md#42" {
		t.Errorf("expected branch task-md#42, got %q", result.Record.Branch)
	}
	if want := filepath.Join(env.root, "task-md#42"); result.WorkspacePath != want {
		t.Errorf("expected workspace %q, got %q", want, result.WorkspacePath)
	}
	if _, err := os.Stat(result.WorkspacePath); err != nil {
		t.Errorf("workspace directory should exist: %v", err)
	}

	// Record registration happens after the git work, never before.
	calls := env.mock.GetCalls()
	cloneIdx := callIndex(calls, "clone")
	branchIdx := callIndex(calls, "checkout", "-b")
	if cloneIdx < 0 || branchIdx < 0 || cloneIdx > branchIdx {
		t.Errorf("expected clone then branch creation, calls: %v", calls)
	}

	if got := env.store.Get("task-md#42"); got == nil {
		t.Fatal("expected record in store")
	}

	status, err := env.tasks.GetStatus("md#42")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != task.StatusInProgress {
		t.Errorf("linked task should be IN-PROGRESS, got %s", status)
	}
}

func TestStart_NoOrphanOnCloneFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mock.AddPrefixMatch("git", []string{"clone"}, pexec.MockResponse{
		Err: fmt.Errorf("exit status 128"),
	})

	_, err := Start(ctx, StartParams{Task: "md#42", Repo: env.repoRoot, Dir: env.outside}, env.deps)
	if err == nil {
		t.Fatal("expected error")
	}
	var opErr *OperationalError
	if !errors.As(err, &opErr) {
		t.Errorf("expected OperationalError, got %T", err)
	}

	if len(env.store.List()) != 0 {
		t.Error("failed start must leave no record")
	}
	if _, statErr := os.Stat(filepath.Join(env.root, "task-md#42")); !os.IsNotExist(statErr) {
		t.Error("failed start must leave no workspace directory")
	}
}

func TestStart_NoOrphanOnBranchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mock.AddPrefixMatch("git", []string{"checkout", "-b"}, pexec.MockResponse{
		Err: fmt.Errorf("fatal: branch already exists"),
	})

	_, err := Start(ctx, StartParams{Task: "md#42", Repo: env.repoRoot, Dir: env.outside}, env.deps)
	if err == nil {
		t.Fatal("expected error")
	}

	if len(env.store.List()) != 0 {
		t.Error("failed start must leave no record")
	}
	// The clone had created the directory; the failure removed it again.
	if _, statErr := os.Stat(filepath.Join(env.root, "task-md#42")); !os.IsNotExist(statErr) {
		t.Error("partially created workspace must be removed")
	}
}

func TestStart_RejectsClaimedTask(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)

	// The same task, spelled differently.
	_, err := Start(ctx, StartParams{Name: "second", Task: "#42", Repo: env.repoRoot, Dir: env.outside}, env.deps)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(vErr.Msg, "task-md#42") {
		t.Errorf("error should name the claiming session: %q", vErr.Msg)
	}
}

func TestStart_RejectsUnknownTask(t *testing.T) {
	env := newTestEnv(t)

	_, err := Start(ctx, StartParams{Task: "md#99", Repo: env.repoRoot, Dir: env.outside}, env.deps)
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if len(env.store.List()) != 0 {
		t.Error("validation failures must precede side effects")
	}
}

func TestStart_RejectsDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)

	_, err := Start(ctx, StartParams{Name: "task-md#42", Repo: env.repoRoot, Dir: env.outside}, env.deps)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestStart_RejectsNestedSessions(t *testing.T) {
	env := newTestEnv(t)
	started := env.startSession(t)

	_, err := Start(ctx, StartParams{Name: "nested", Repo: env.repoRoot, Dir: started.WorkspacePath}, env.deps)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdate_CleanFlow(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.mock.ClearCalls()
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})

	result, err := Update(ctx, UpdateParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result.Stashed {
		t.Error("nothing to stash on a clean worktree")
	}
	if !result.Pushed {
		t.Error("clean update should push")
	}

	calls := env.mock.GetCalls()
	pullIdx := callIndex(calls, "pull")
	mergeIdx := callIndex(calls, "merge", "origin/main")
	pushIdx := callIndex(calls, "push")
	if pullIdx < 0 || mergeIdx < 0 || pushIdx < 0 {
		t.Fatalf("expected pull, merge, push; calls: %v", calls)
	}
	if !(pullIdx < mergeIdx && mergeIdx < pushIdx) {
		t.Errorf("wrong order: pull=%d merge=%d push=%d", pullIdx, mergeIdx, pushIdx)
	}

	pushes := env.mock.CallsMatching("git", "push")
	if len(pushes) != 1 || !strings.Contains(strings.Join(pushes[0].Args, " "), "task-md#42") {
		t.Errorf("push should target the session branch: %v", pushes)
	}
}

func TestUpdate_ConflictRaisesAndSkipsPush(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.mock.ClearCalls()
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})
	env.mock.AddExactMatch("git", []string{"merge", "origin/main", "--no-edit"}, pexec.MockResponse{
		Stdout: []byte("CONFLICT (content): Merge conflict in auth.go\n"),
		Err:    fmt.Errorf("exit status 1"),
	})
	env.mock.AddExactMatch("git", []string{"diff", "--name-only", "--diff-filter=U"}, pexec.MockResponse{
		Stdout: []byte("auth.go\n"),
	})

	_, err := Update(ctx, UpdateParams{Session: "task-md#42"}, env.deps)
	var cErr *ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(cErr.Files) != 1 || cErr.Files[0] != "auth.go" {
		t.Errorf("conflict error should carry the files: %v", cErr.Files)
	}
	if len(cErr.Remediation) == 0 {
		t.Error("conflict error should carry remediation commands")
	}

	if got := env.mock.CallsMatching("git", "push"); len(got) != 0 {
		t.Errorf("a conflicted update must not push: %v", got)
	}
	// The repository is left conflicted for the user to resolve.
	if got := env.mock.CallsMatching("git", "merge", "--abort"); len(got) != 0 {
		t.Errorf("a conflicted update must not abort the merge: %v", got)
	}
}

func TestUpdate_StashRestoredAfterConflict(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.mock.ClearCalls()
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("Saved working directory and index state\n"),
	})
	env.mock.AddExactMatch("git", []string{"merge", "origin/main", "--no-edit"}, pexec.MockResponse{
		Err: fmt.Errorf("exit status 1"),
	})
	env.mock.AddExactMatch("git", []string{"diff", "--name-only", "--diff-filter=U"}, pexec.MockResponse{
		Stdout: []byte("auth.go\n"),
	})

	_, err := Update(ctx, UpdateParams{Session: "task-md#42"}, env.deps)
	var cErr *ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	// Restoration is attempted even though the update failed.
	if got := env.mock.CallsMatching("git", "stash", "pop"); len(got) != 1 {
		t.Errorf("expected one stash pop attempt, got %v", got)
	}
}

func TestUpdate_NoStashAndNoPushFlags(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.mock.ClearCalls()

	result, err := Update(ctx, UpdateParams{Session: "task-md#42", NoStash: true, NoPush: true}, env.deps)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result.Pushed {
		t.Error("NoPush should suppress the push")
	}
	if got := env.mock.CallsMatching("git", "stash"); len(got) != 0 {
		t.Errorf("NoStash should suppress stashing: %v", got)
	}
	if got := env.mock.CallsMatching("git", "push"); len(got) != 0 {
		t.Errorf("NoPush should suppress pushing: %v", got)
	}
}

func TestUpdate_AutoDetectsFromWorkingDirectory(t *testing.T) {
	env := newTestEnv(t)
	started := env.startSession(t)
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})

	result, err := Update(ctx, UpdateParams{Dir: started.WorkspacePath}, env.deps)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result.Session != "task-md#42" {
		t.Errorf("expected auto-detected session, got %q", result.Session)
	}
}

func TestUpdate_SelfRepairsMissingRecord(t *testing.T) {
	env := newTestEnv(t)

	// A workspace directory with no record: the crashed-start state.
	orphan := filepath.Join(env.root, "task-md#7")
	if err := os.MkdirAll(orphan, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	env.mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, pexec.MockResponse{
		Stdout: []byte(env.repoRoot + "\n"),
	})
	env.mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, pexec.MockResponse{
		Stdout: []byte("task-md#7\n"),
	})
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})

	result, err := Update(ctx, UpdateParams{Dir: orphan}, env.deps)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !result.Repaired {
		t.Error("expected record repair")
	}

	rec := env.store.Get("task-md#7")
	if rec == nil {
		t.Fatal("expected reconstructed record")
	}
	if rec.RepoURL != env.repoRoot || rec.Branch != "task-md#7" {
		t.Errorf("repair should use the repository's remote and branch: %+v", rec)
	}
}

func TestUpdate_SelfRepairCanRequireConfirmation(t *testing.T) {
	env := newTestEnv(t)
	orphan := filepath.Join(env.root, "task-md#7")
	if err := os.MkdirAll(orphan, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := Update(ctx, UpdateParams{Dir: orphan, RequireConfirm: true}, env.deps)
	var cErr *ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(env.store.List()) != 0 {
		t.Error("confirmation-required repair must not register anything")
	}
}

func TestUpdate_DetectsBaseBranchWhenUnset(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.deps.Settings = &config.Settings{} // fresh-install state: no base branch configured
	env.mock.ClearCalls()
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})
	env.mock.AddExactMatch("git", []string{"symbolic-ref", "refs/remotes/origin/HEAD"}, pexec.MockResponse{
		Stdout: []byte("refs/remotes/origin/trunk\n"),
	})

	if _, err := Update(ctx, UpdateParams{Session: "task-md#42"}, env.deps); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := env.mock.CallsMatching("git", "merge", "origin/trunk"); len(got) != 1 {
		t.Errorf("expected merge of the detected base branch, got %v", env.mock.CallsMatching("git", "merge"))
	}
	if got := env.mock.CallsMatching("git", "merge", "origin/"); len(got) != 0 {
		t.Errorf("an unset base branch must never merge a bare remote ref: %v", got)
	}
}

func TestUpdate_SkipsPullWithoutUpstream(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.mock.ClearCalls()
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})
	// The branch was never pushed, so it has no upstream yet.
	env.mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}"}, pexec.MockResponse{
		Err: fmt.Errorf("exit status 128"),
	})

	result, err := Update(ctx, UpdateParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !result.Pushed {
		t.Error("the update should still merge and push")
	}

	if got := env.mock.CallsMatching("git", "pull"); len(got) != 0 {
		t.Errorf("no upstream means nothing to pull: %v", got)
	}
	if got := env.mock.CallsMatching("git", "merge", "origin/main"); len(got) != 1 {
		t.Errorf("expected the base merge to proceed, got %v", got)
	}
}

func TestUpdate_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := Update(ctx, UpdateParams{Session: "nope"}, env.deps)
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

// submitRules scripts the git answers a clean submit needs. The returned
// function marks the review branch as existing from then on, for tests that
// continue past the submit.
func (env *testEnv) submitRules(branch string) func() {
	env.mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, pexec.MockResponse{
		Stdout: []byte(branch + "\n"),
	})
	env.mock.AddExactMatch("git", []string{"status", "--porcelain"}, pexec.MockResponse{})
	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})
	// No pre-existing review branch, until the submit pushes one.
	prExists := false
	env.mock.AddRule(func(dir, name string, args []string) bool {
		return name == "git" && len(args) == 3 && args[0] == "rev-parse" &&
			args[1] == "--verify" && args[2] == "pr/"+branch && !prExists
	}, pexec.MockResponse{Err: fmt.Errorf("exit status 128")})
	return func() { prExists = true }
}

func TestSubmit_CreatesReviewBranch(t *testing.T) {
	env := newTestEnv(t)
	started := env.startSession(t)
	env.mock.ClearCalls()
	env.submitRules("task-md#42")

	result, err := Submit(ctx, SubmitParams{Dir: started.WorkspacePath}, env.deps)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.PRBranch != "pr/task-md#42" {
		t.Errorf("expected pr/task-md#42, got %q", result.PRBranch)
	}
	if !result.Updated {
		t.Error("submit should update first by default")
	}

	if got := env.mock.CallsMatching("git", "checkout", "-b", "pr/task-md#42"); len(got) != 1 {
		t.Errorf("expected review branch creation, got %v", got)
	}
	pushes := env.mock.CallsMatching("git", "push")
	found := false
	for _, p := range pushes {
		if strings.Contains(strings.Join(p.Args, " "), "pr/task-md#42") {
			found = true
		}
	}
	if !found {
		t.Errorf("review branch should be pushed: %v", pushes)
	}
	// The workspace ends up back on the session branch.
	if got := env.mock.CallsMatching("git", "checkout", "task-md#42"); len(got) != 1 {
		t.Errorf("expected checkout back to the session branch, got %v", got)
	}

	status, err := env.tasks.GetStatus("md#42")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != task.StatusInReview {
		t.Errorf("linked task should be IN-REVIEW, got %s", status)
	}
}

func TestSubmit_RefusesOnReviewBranch(t *testing.T) {
	env := newTestEnv(t)
	started := env.startSession(t)
	env.mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, pexec.MockResponse{
		Stdout: []byte("pr/task-md#42\n"),
	})

	_, err := Submit(ctx, SubmitParams{Dir: started.WorkspacePath}, env.deps)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSubmit_RefusesDirtyWorktree(t *testing.T) {
	env := newTestEnv(t)
	started := env.startSession(t)
	env.mock.ClearCalls()
	env.mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, pexec.MockResponse{
		Stdout: []byte("task-md#42\n"),
	})
	env.mock.AddExactMatch("git", []string{"status", "--porcelain"}, pexec.MockResponse{
		Stdout: []byte(" M auth.go\n?? notes.txt\n"),
	})

	_, err := Submit(ctx, SubmitParams{Dir: started.WorkspacePath}, env.deps)
	var cErr *ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(cErr.Files) != 2 {
		t.Errorf("expected the changed-file list, got %v", cErr.Files)
	}
	if got := env.mock.CallsMatching("git", "push"); len(got) != 0 {
		t.Errorf("a refused submit must not push: %v", got)
	}
}

func TestSubmit_RequiresSessionWorkspace(t *testing.T) {
	env := newTestEnv(t)

	_, err := Submit(ctx, SubmitParams{Dir: env.outside}, env.deps)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// approveRules scripts a not-yet-merged review branch: the first ancestry
// check says no, every later one says yes, as a real merge would make true.
func (env *testEnv) approveRules() {
	notMerged := true
	env.mock.AddRule(func(dir, name string, args []string) bool {
		if name == "git" && len(args) >= 2 && args[0] == "merge-base" && args[1] == "--is-ancestor" && notMerged {
			notMerged = false
			return true
		}
		return false
	}, pexec.MockResponse{Err: fmt.Errorf("exit status 1")})
	env.mock.AddExactMatch("git", []string{"rev-parse", "HEAD"}, pexec.MockResponse{
		Stdout: []byte("abc1234\n"),
	})
	env.mock.AddExactMatch("git", []string{"config", "user.name"}, pexec.MockResponse{
		Stdout: []byte("Jo Dev\n"),
	})
	env.mock.AddExactMatch("git", []string{"config", "user.email"}, pexec.MockResponse{
		Stdout: []byte("jo@example.com\n"),
	})
}

func TestApprove_MergesLocalReviewBranch(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.mock.ClearCalls()
	env.approveRules()

	result, err := Approve(ctx, ApproveParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if result.AlreadyApproved {
		t.Fatal("first approval must not report already approved")
	}
	if result.Commit != "abc1234" {
		t.Errorf("expected merge commit abc1234, got %q", result.Commit)
	}
	if result.MergedBy != "Jo Dev <jo@example.com>" {
		t.Errorf("unexpected merger identity: %q", result.MergedBy)
	}

	// Everything runs in the original repository root.
	for _, c := range env.mock.GetCalls() {
		if c.Dir != env.repoRoot && c.Dir != "" {
			t.Errorf("approve must work in the repo root, saw dir %q for %v", c.Dir, c.Args)
		}
	}

	// The merge authority is the local review branch, never its remote copy.
	merges := env.mock.CallsMatching("git", "merge", "--ff-only")
	if len(merges) != 1 {
		t.Fatalf("expected one ff-only merge, got %v", merges)
	}
	if ref := merges[0].Args[2]; ref != "pr/task-md#42" {
		t.Errorf("merge must target the local pr branch, got %q", ref)
	}

	// Base branch pushed, both local branches cleaned up.
	if got := env.mock.CallsMatching("git", "push", "origin", "main"); len(got) != 1 {
		t.Errorf("expected base branch push, got %v", got)
	}
	if got := env.mock.CallsMatching("git", "branch", "-D", "pr/task-md#42"); len(got) != 1 {
		t.Errorf("expected local review branch delete, got %v", got)
	}
	if got := env.mock.CallsMatching("git", "branch", "-D", "task-md#42"); len(got) != 1 {
		t.Errorf("expected local session branch delete, got %v", got)
	}

	// Task DONE, with merge metadata recorded.
	done, err := env.tasks.Get("md#42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.Status != task.StatusDone {
		t.Errorf("expected DONE, got %s", done.Status)
	}
	if done.Merge == nil || done.Merge.Commit != "abc1234" || done.Merge.PRBranch != "pr/task-md#42" {
		t.Errorf("unexpected merge metadata: %+v", done.Merge)
	}
}

func TestApprove_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.approveRules()

	first, err := Approve(ctx, ApproveParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if first.AlreadyApproved {
		t.Fatal("first approval must merge")
	}

	env.mock.ClearCalls()
	second, err := Approve(ctx, ApproveParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if !second.AlreadyApproved {
		t.Fatal("second approval must report already approved")
	}

	if got := env.mock.CallsMatching("git", "merge"); len(got) != 0 {
		t.Errorf("already-approved must not merge: %v", got)
	}
	if got := env.mock.CallsMatching("git", "push"); len(got) != 0 {
		t.Errorf("already-approved must not push: %v", got)
	}
	if got := env.mock.CallsMatching("git", "branch", "-D"); len(got) != 0 {
		t.Errorf("already-approved must not delete branches: %v", got)
	}
}

func TestApprove_DetectsBaseBranchWhenUnset(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.deps.Settings = &config.Settings{}
	env.approveRules()
	env.mock.AddExactMatch("git", []string{"symbolic-ref", "refs/remotes/origin/HEAD"}, pexec.MockResponse{
		Stdout: []byte("refs/remotes/origin/trunk\n"),
	})

	result, err := Approve(ctx, ApproveParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if result.Base != "trunk" {
		t.Errorf("expected detected base trunk, got %q", result.Base)
	}
	if got := env.mock.CallsMatching("git", "checkout", "trunk"); len(got) != 1 {
		t.Errorf("expected checkout of the detected base, got %v", env.mock.CallsMatching("git", "checkout"))
	}
	if got := env.mock.CallsMatching("git", "push", "origin", "trunk"); len(got) != 1 {
		t.Errorf("expected push of the detected base, got %v", got)
	}
}

func TestApprove_ResolvesByTaskID(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.approveRules()

	// Bare task id, normalized against the default backend.
	result, err := Approve(ctx, ApproveParams{Task: "42"}, env.deps)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if result.Session != "task-md#42" {
		t.Errorf("expected session resolved via task id, got %q", result.Session)
	}
}

func TestApprove_SessionNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := Approve(ctx, ApproveParams{Session: "nope"}, env.deps)
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDelete_RemovesRecordOnly(t *testing.T) {
	env := newTestEnv(t)
	started := env.startSession(t)

	result, err := Delete(ctx, DeleteParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.WorkspacePath != started.WorkspacePath {
		t.Errorf("unexpected workspace path: %q", result.WorkspacePath)
	}

	if env.store.Get("task-md#42") != nil {
		t.Error("record should be gone")
	}
	// The workspace directory stays for the caller to deal with.
	if _, err := os.Stat(started.WorkspacePath); err != nil {
		t.Errorf("workspace directory must survive delete: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := Delete(ctx, DeleteParams{Session: "nope"}, env.deps)
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

// TestSessionLifecycle_EndToEnd walks one session through its whole life:
// start from a task, clean update, submit for review, approve.
func TestSessionLifecycle_EndToEnd(t *testing.T) {
	env := newTestEnv(t)

	started, err := Start(ctx, StartParams{Task: "md#42", Repo: env.repoRoot, Dir: env.outside}, env.deps)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Record.Name != "task-md#42" || started.Record.Branch != "task-md#42" {
		t.Fatalf("unexpected session: %+v", started.Record)
	}

	env.mock.AddPrefixMatch("git", []string{"stash", "push"}, pexec.MockResponse{
		Stdout: []byte("No local changes to save\n"),
	})
	upd, err := Update(ctx, UpdateParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !upd.Pushed {
		t.Error("clean update should push")
	}

	markPRExists := env.submitRules("task-md#42")
	sub, err := Submit(ctx, SubmitParams{Dir: started.WorkspacePath, SkipUpdate: true}, env.deps)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	markPRExists()
	if sub.PRBranch != "pr/task-md#42" {
		t.Fatalf("unexpected review branch %q", sub.PRBranch)
	}
	if status, _ := env.tasks.GetStatus("md#42"); status != task.StatusInReview {
		t.Errorf("expected IN-REVIEW after submit, got %s", status)
	}

	env.approveRules()
	approved, err := Approve(ctx, ApproveParams{Session: "task-md#42"}, env.deps)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.AlreadyApproved {
		t.Fatal("fresh approval should merge")
	}
	if status, _ := env.tasks.GetStatus("md#42"); status != task.StatusDone {
		t.Errorf("expected DONE after approve, got %s", status)
	}
	if got := env.mock.CallsMatching("git", "branch", "-D"); len(got) != 2 {
		t.Errorf("expected both local branches deleted, got %v", got)
	}
}
