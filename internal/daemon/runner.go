package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ai-janitor/minion-factory-sub000/internal/comms"
	"github.com/ai-janitor/minion-factory-sub000/internal/monitor"
	"github.com/ai-janitor/minion-factory-sub000/internal/polling"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// defaultContextWindow is assumed until the stream reports the real one.
const defaultContextWindow = 200_000

// phoenixThresholdPct is the HP floor. At or below it the generation
// is declared dead and the daemon respawns the agent fresh.
const phoenixThresholdPct = 5.0

// AgentRunResult summarizes one child invocation.
type AgentRunResult struct {
	ExitCode     int
	TimedOut     bool
	Interrupted  bool
	Compacted    bool
	InputTokens  int64
	OutputTokens int64
	CommandName  string
}

// AgentDaemon supervises a single agent: it polls for work, invokes
// the provider CLI, accounts for context consumption, and respawns
// the agent as a new generation when its context is exhausted.
type AgentDaemon struct {
	cfg      *SwarmConfig
	agentCfg *AgentConfig
	store    *store.Store
	provider Provider
	registry *Registry
	state    *stateFile
	logger   *log.Logger
	console  io.Writer

	buffer        *RollingBuffer
	injectHistory bool
	resumeReady   bool
	failures      int
	lastError     string
	phoenixDown   bool
	stoodDown     bool
	lastTaskID    int64

	generation      int
	invocation      int
	sessionInput    int64
	sessionOutput   int64
	toolOverhead    int64
	contextWindow   int64
	childPID        int
	invocationRowID int64

	maxConsoleChars int
	markers         []string
	wake            chan struct{}
}

// New builds the daemon for one agent of a crew. The store handle is
// shared with the caller and stays open for the daemon's lifetime.
func New(cfg *SwarmConfig, agentName string, s *store.Store) (*AgentDaemon, error) {
	agentCfg, ok := cfg.Agents[agentName]
	if !ok {
		return nil, fmt.Errorf("agent %q not defined in crew %s", agentName, cfg.CrewName)
	}
	if err := cfg.EnsureRuntimeDirs(); err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg.StateDir())
	if err != nil {
		return nil, err
	}

	logWriter := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogsDir() + "/" + agentName + ".log",
		MaxSize:    10, // megabytes
		MaxBackups: 5,
	})

	d := &AgentDaemon{
		cfg:             cfg,
		agentCfg:        agentCfg,
		store:           s,
		provider:        NewProvider(agentCfg),
		registry:        registry,
		state:           newStateFile(cfg.StateDir(), agentName),
		logger:          log.New(logWriter, "["+agentName+"] ", log.LstdFlags),
		console:         os.Stdout,
		buffer:          NewRollingBuffer(agentCfg.MaxHistoryTokens),
		maxConsoleChars: maxConsoleStreamChars(cfg.DocsDir),
		markers:         compactionMarkers(cfg.DocsDir),
		wake:            make(chan struct{}, 1),
	}
	d.resumeReady = d.state.resumeReady()
	return d, nil
}

// Run drives the daemon until ctx is canceled or a stand-down or
// retire signal arrives. The outer loop is the generation loop: a
// phoenix_down exit reboots the agent with reset state instead of
// stopping the daemon.
func (d *AgentDaemon) Run(ctx context.Context) error {
	d.writeAgentRuntime()
	d.registerSelf()
	defer d.registry.Unregister(d.agentCfg.Name)

	stopWatch := d.startDBWatcher(ctx)
	defer stopWatch()

	d.logf("starting daemon for %s", d.agentCfg.Name)
	d.logf("provider: %s (resume_ready=%v)", d.agentCfg.Provider, d.resumeReady)
	d.logf("db: %s", d.cfg.CommsDB)
	d.logf("project_dir: %s", d.cfg.ProjectDir)

	for ctx.Err() == nil {
		d.generation++
		reason := d.pollGeneration(ctx, d.generation)
		if reason == "phoenix_down" && ctx.Err() == nil {
			d.logf("auto-respawn: generation %d died with context exhausted, rebooting as generation %d",
				d.generation, d.generation+1)
			d.resetForRespawn()
			d.registerSelf()
			continue
		}
		break
	}

	d.writeState("stopped", nil)
	d.logf("daemon stopped")
	return nil
}

// resetForRespawn clears per-generation state before a fresh boot.
func (d *AgentDaemon) resetForRespawn() {
	d.sessionInput = 0
	d.sessionOutput = 0
	d.toolOverhead = 0
	d.contextWindow = 0
	d.invocation = 0
	d.resumeReady = false
	d.failures = 0
	d.lastError = ""
	d.phoenixDown = false
	d.stoodDown = false
	d.lastTaskID = 0
	d.injectHistory = false
	d.buffer = NewRollingBuffer(d.agentCfg.MaxHistoryTokens)
	d.provider.SetSessionID("")
}

// pollGeneration runs one boot plus poll cycle. It returns the exit
// reason: "phoenix_down", "signal", or "stand_down".
func (d *AgentDaemon) pollGeneration(ctx context.Context, generation int) string {
	d.writeState("idle", map[string]any{"generation": generation})

	// Reset stale HP carried over from the previous generation.
	monitor.UpdateHP(d.store, d.agentCfg.Name, 0, 0, d.hpLimit(), 0, 0)

	d.logf("boot (gen %d): invoking agent for startup", generation)
	d.writeState("working", map[string]any{"generation": generation})
	bootPrompt := buildBootPrompt(d.cfg.DocsDir, d.agentCfg, d.provider.Guardrails())
	result := d.runAgent(ctx, bootPrompt)
	if result.ExitCode == 0 {
		d.resumeReady = true
		if result.InputTokens > 0 {
			promptTokens := int64(len(bootPrompt) / 4)
			d.toolOverhead = result.InputTokens - promptTokens
			if d.toolOverhead < 0 {
				d.toolOverhead = 0
			}
			d.logf("boot HP: %dk/%dk context, overhead %dk, prompt %d tokens",
				result.InputTokens/1000, d.hpLimit()/1000, d.toolOverhead/1000, promptTokens)
			d.sessionInput += result.InputTokens
			d.sessionOutput += result.OutputTokens
			d.updateHP(result.InputTokens, result.OutputTokens)
		}
		d.logf("boot (gen %d): complete", generation)
	} else {
		d.logf("boot (gen %d): failed (exit %d)", generation, result.ExitCode)
	}
	d.writeState("idle", map[string]any{"generation": generation})

	for ctx.Err() == nil {
		d.logf("polling for messages...")
		pollData, code := polling.PollLoop(ctx, d.store, d.agentCfg.Name, 5*time.Second, 30*time.Second)
		if code == polling.ExitSignal {
			d.logf("stand_down detected, leader dismissed the party")
			return "stand_down"
		}
		if ctx.Err() != nil {
			return "signal"
		}
		if code != polling.ExitContent || len(pollData) == 0 {
			d.waitForWake(ctx, 5*time.Second)
			continue
		}

		if d.stoodDown {
			d.wakeFromStanddown(pollData)
		}
		d.writeState("working", map[string]any{"generation": generation})
		messages := mapSlice(pollData["messages"])
		tasks := mapSlice(pollData["tasks"])
		for _, msg := range messages {
			preview := strings.ReplaceAll(strAt(msg, "content", ""), "\n", " ")
			if len(preview) > 200 {
				preview = preview[:200]
			}
			d.logf("from %s: %s", strAt(msg, "from_agent", "?"), preview)
		}
		for _, task := range tasks {
			d.logf("task #%v: %s", task["task_id"], strAt(task, "title", "?"))
		}
		// Remember which task this invocation is about, for the
		// resume-vs-fresh decision on the next wake.
		for _, task := range tasks {
			if id := taskIDAt(task); id != 0 {
				d.lastTaskID = id
				break
			}
		}

		var snapshot string
		if d.injectHistory && d.buffer.Len() > 0 {
			snapshot = d.buffer.Snapshot()
			d.injectHistory = false
		}
		prompt := buildInboxPrompt(d.cfg.DocsDir, d.agentCfg, pollData, d.provider.Guardrails(), snapshot)
		if len(prompt) > d.agentCfg.MaxPromptChars {
			prompt = prompt[:d.agentCfg.MaxPromptChars]
			d.logf("hard-truncated prompt to max_prompt_chars")
		}

		if d.processPrompt(ctx, prompt) {
			d.failures = 0
			d.lastError = ""
			if d.phoenixDown {
				return "phoenix_down"
			}
			// Did the agent just finish its last piece of work?
			if len(polling.FindAvailableTasks(d.store, d.agentCfg.Name)) == 0 {
				d.standdown(generation)
			} else {
				d.writeState("idle", map[string]any{"generation": generation})
			}
			continue
		}

		d.failures++
		d.writeState("error", map[string]any{
			"generation": generation,
			"failures":   d.failures,
			"last_error": d.lastError,
		})
		backoff := d.agentCfg.RetryBackoffSec * (1 << (d.failures - 1))
		if backoff > d.agentCfg.RetryBackoffMaxSec {
			backoff = d.agentCfg.RetryBackoffMaxSec
		}
		d.logf("failure #%d; backing off %ds (%s)", d.failures, backoff, orUnknown(d.lastError))
		if d.failures >= 3 {
			d.alertLead(fmt.Sprintf(
				"agent %s has %d consecutive failures. Last error: %s",
				d.agentCfg.Name, d.failures, orUnknown(d.lastError)))
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(backoff) * time.Second):
		}
	}
	return "signal"
}

// processPrompt runs the agent once and folds the result into session
// accounting. Returns false when the invocation should count as a
// failure.
func (d *AgentDaemon) processPrompt(ctx context.Context, prompt string) bool {
	result := d.runAgent(ctx, prompt)

	if result.InputTokens > 0 || result.OutputTokens > 0 {
		d.sessionInput += result.InputTokens
		d.sessionOutput += result.OutputTokens
		d.updateHP(result.InputTokens, result.OutputTokens)

		turnUsed := result.InputTokens - d.toolOverhead
		if turnUsed < 0 {
			turnUsed = 0
		}
		hpPct := 100 - float64(turnUsed)/float64(d.hpLimit())*100
		if hpPct < 0 {
			hpPct = 0
		}
		if hpPct <= phoenixThresholdPct {
			d.alertLead(fmt.Sprintf(
				"agent %s at %.0f%% HP, context exhausted. "+
					"Stopping this generation and respawning fresh.",
				d.agentCfg.Name, hpPct))
			d.writeState("phoenix_down", map[string]any{"hp_pct": hpPct})
			d.phoenixDown = true
			return true // the invocation itself succeeded, the agent is cooked
		}
	}

	if result.Interrupted {
		d.logf("invocation interrupted by lead, returning to poll loop")
		return true
	}

	if result.Compacted {
		d.injectHistory = true
		d.logf("detected context compaction marker; history will be re-injected next cycle")
		d.logCompaction(d.sessionInput, result.InputTokens)
	}

	if result.TimedOut {
		d.lastError = fmt.Sprintf("%s produced no output for %ds",
			d.agentCfg.Provider, d.agentCfg.NoOutputTimeoutSec)
		return false
	}
	if result.ExitCode != 0 {
		d.lastError = fmt.Sprintf("%s exited with code %d", result.CommandName, result.ExitCode)
		return false
	}

	d.resumeReady = true
	return true
}

// runAgent invokes the provider, preferring session resume and
// falling back to a fresh session when resume fails.
func (d *AgentDaemon) runAgent(ctx context.Context, prompt string) AgentRunResult {
	if d.provider.SupportsResume() && d.resumeReady {
		resumed := d.runCommand(ctx, d.provider.BuildCommand(prompt, true))
		if resumed.TimedOut || resumed.ExitCode == 0 {
			return resumed
		}
		d.resumeReady = false
		d.logf("%s failed with exit %d; retrying without resume", d.provider.ResumeLabel(), resumed.ExitCode)
	}
	return d.runCommand(ctx, d.provider.BuildCommand(prompt, false))
}

// runCommand spawns one child invocation and supervises its merged
// output stream: rolling buffer capture, raw stream log, console echo
// capped at max_console_stream_chars, token extraction, no-output
// timeout, and the ~2s interrupt flag check.
func (d *AgentDaemon) runCommand(ctx context.Context, argv []string) AgentRunResult {
	name := argv[0]
	d.logf("exec: %s (%s)", name, d.agentCfg.Provider)
	d.printStreamStart(name)

	pr, pw, err := os.Pipe()
	if err != nil {
		d.logf("failed to launch %s: %v", name, err)
		return AgentRunResult{ExitCode: 127, CommandName: name}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = d.cfg.ProjectDir
	cmd.Stdin = nil
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.Env = d.childEnv()

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		d.logf("failed to launch %s: %v", name, err)
		return AgentRunResult{ExitCode: 127, CommandName: name}
	}
	pw.Close()

	d.childPID = cmd.Process.Pid
	d.updateChildPID()
	d.invocationRowID = d.insertInvocationStart()

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text() + "\n"
		}
		close(lines)
	}()

	streamLog, _ := os.OpenFile(
		d.cfg.LogsDir()+"/"+d.agentCfg.Name+".stream.jsonl",
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)

	var (
		timedOut           bool
		interrupted        bool
		compacted          bool
		displayedChars     int
		hiddenChars        int
		totalInput         int64
		totalOutput        int64
		lastOutputAt       = time.Now()
		lastInterruptCheck = time.Now()
	)
	noOutputTimeout := time.Duration(d.agentCfg.NoOutputTimeoutSec) * time.Second
	ticker := time.NewTicker(time.Second)

reading:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break reading
			}
			lastOutputAt = time.Now()
			d.buffer.Append(line)
			if streamLog != nil {
				streamLog.WriteString(line)
			}

			usage := extractUsage(line)
			if usage.InputTokens > 0 {
				totalInput = usage.InputTokens
			}
			if usage.OutputTokens > 0 {
				totalOutput = usage.OutputTokens
			}
			if usage.ContextWindow > 0 {
				d.contextWindow = usage.ContextWindow
			}
			if usage.SessionID != "" {
				d.updateSessionID(usage.SessionID)
			}

			rendered, hasCompaction := renderStreamLine(line, d.markers)
			if hasCompaction {
				compacted = true
			}
			if rendered != "" {
				remaining := d.maxConsoleChars - displayedChars
				chunk := ""
				if remaining > 0 {
					chunk = rendered
					if len(chunk) > remaining {
						chunk = chunk[:remaining]
					}
					fmt.Fprint(d.console, chunk)
					displayedChars += len(chunk)
				}
				hiddenChars += len(rendered) - len(chunk)
			}

		case <-ticker.C:
			if time.Since(lastOutputAt) > noOutputTimeout {
				timedOut = true
				cmd.Process.Signal(syscall.SIGTERM)
				break reading
			}
			if time.Since(lastInterruptCheck) > 2*time.Second {
				lastInterruptCheck = time.Now()
				if d.checkInterrupt() {
					d.logf("interrupt flag detected, terminating child process")
					interrupted = true
					cmd.Process.Signal(syscall.SIGTERM)
					break reading
				}
			}

		case <-ctx.Done():
			cmd.Process.Signal(syscall.SIGTERM)
			break reading
		}
	}
	ticker.Stop()

	// Drain whatever the child flushes on its way out.
	drain := time.After(5 * time.Second)
draining:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break draining
			}
			d.buffer.Append(line)
			if streamLog != nil {
				streamLog.WriteString(line)
			}
		case <-drain:
			cmd.Process.Kill()
			break draining
		}
	}
	if streamLog != nil {
		streamLog.Close()
	}

	exitCode := waitExit(cmd)
	d.printStreamEnd(name, displayedChars, hiddenChars)

	result := AgentRunResult{
		ExitCode:     exitCode,
		TimedOut:     timedOut,
		Interrupted:  interrupted,
		Compacted:    compacted,
		InputTokens:  totalInput,
		OutputTokens: totalOutput,
		CommandName:  name,
	}
	d.finalizeInvocation(result)
	return result
}

// waitExit reaps the child, killing it when it ignores SIGTERM.
func waitExit(cmd *exec.Cmd) int {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-time.After(30 * time.Second):
		cmd.Process.Kill()
		err = <-done
	}
	if err == nil {
		return 0
	}
	if exit, ok := err.(*exec.ExitError); ok {
		return exit.ExitCode()
	}
	return 127
}

// childEnv is the parent environment minus CLAUDECODE (nested claude
// sessions refuse to start under it) plus the minion coordination
// variables.
func (d *AgentDaemon) childEnv() []string {
	env := make([]string, 0, len(os.Environ())+3)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env,
		workdir.EnvClass+"="+d.agentCfg.Role,
		workdir.EnvDBPath+"="+d.cfg.CommsDB,
		workdir.EnvDocsDir+"="+d.cfg.DocsDir,
	)
}

func (d *AgentDaemon) hpLimit() int64 {
	if d.contextWindow > 0 {
		return d.contextWindow
	}
	return defaultContextWindow
}

// updateHP writes session-cumulative HP. Turn input is reduced by the
// measured tool overhead so HP reflects conversation tokens only.
func (d *AgentDaemon) updateHP(turnInput, turnOutput int64) {
	adjusted := turnInput
	if d.toolOverhead > 0 {
		adjusted -= d.toolOverhead
		if adjusted < 0 {
			adjusted = 0
		}
	}
	if _, err := monitor.UpdateHP(
		d.store, d.agentCfg.Name,
		d.sessionInput, d.sessionOutput, d.hpLimit(), adjusted, turnOutput,
	); err != nil {
		d.logf("UPDATE-HP ERROR: %v", err)
	}
}

// alertLead messages the registered lead, falling back to the
// conventional "commander" name when no lead is registered.
func (d *AgentDaemon) alertLead(message string) {
	to := d.store.Lead()
	if to == "" {
		to = "commander"
	}
	if _, err := comms.Send(d.store, d.agentCfg.Name, to, message); err != nil {
		d.logf("ALERT SEND FAILED: %v", err)
	}
	d.logf("ALERT: %s", message)
}

// startDBWatcher wakes the idle wait early when the comms database
// changes. Falls back silently to pure interval polling when fsnotify
// is unavailable.
func (d *AgentDaemon) startDBWatcher(ctx context.Context) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logf("fsnotify unavailable (%v), using interval polling only", err)
		return func() {}
	}
	dir := workdir.WorkDir()
	if err := watcher.Add(dir); err != nil {
		d.logf("watch %s failed (%v), using interval polling only", dir, err)
		watcher.Close()
		return func() {}
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if strings.Contains(event.Name, workdir.DBFileName) {
					select {
					case d.wake <- struct{}{}:
					default:
					}
				}
			case <-watcher.Errors:
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { watcher.Close() }
}

func (d *AgentDaemon) waitForWake(ctx context.Context, timeout time.Duration) {
	select {
	case <-d.wake:
	case <-time.After(timeout):
	case <-ctx.Done():
	}
}

func (d *AgentDaemon) writeAgentRuntime() {
	if _, err := d.store.DB.Exec(
		`UPDATE agents SET pid = ?, crew = ? WHERE name = ?`,
		os.Getpid(), d.cfg.CrewName, d.agentCfg.Name,
	); err != nil {
		d.logf("WARNING: writing agent runtime failed: %v", err)
	}
}

func (d *AgentDaemon) updateChildPID() {
	if _, err := d.store.DB.Exec(
		`UPDATE agents SET pid = ?, rss_bytes = ? WHERE name = ?`,
		d.childPID, rssBytes(d.childPID), d.agentCfg.Name,
	); err != nil {
		d.logf("WARNING: updating child pid failed: %v", err)
	}
}

func (d *AgentDaemon) insertInvocationStart() int64 {
	res, err := d.store.DB.Exec(
		`INSERT INTO invocation_log (agent_name, pid, model, generation, rss_bytes, started_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		d.agentCfg.Name, d.childPID, nullable(d.agentCfg.Model),
		d.generation, rssBytes(d.childPID), store.NowISO(),
	)
	if err != nil {
		d.logf("WARNING: recording invocation start failed: %v", err)
		return 0
	}
	id, _ := res.LastInsertId()
	return id
}

func (d *AgentDaemon) finalizeInvocation(result AgentRunResult) {
	if d.invocationRowID == 0 {
		return
	}
	if _, err := d.store.DB.Exec(
		`UPDATE invocation_log SET
            rss_bytes = ?, input_tokens = ?, output_tokens = ?,
            exit_code = ?, timed_out = ?, interrupted = ?,
            compacted = ?, ended_at = ?
         WHERE id = ?`,
		rssBytes(d.childPID), result.InputTokens, result.OutputTokens,
		result.ExitCode, boolInt(result.TimedOut), boolInt(result.Interrupted),
		boolInt(result.Compacted), store.NowISO(), d.invocationRowID,
	); err != nil {
		d.logf("WARNING: finalizing invocation failed: %v", err)
	}
	d.invocationRowID = 0
}

// checkInterrupt consumes the agent_interrupt flag when set.
func (d *AgentDaemon) checkInterrupt() bool {
	var name string
	err := d.store.DB.QueryRow(
		`SELECT agent_name FROM agent_interrupt WHERE agent_name = ?`, d.agentCfg.Name,
	).Scan(&name)
	if err != nil {
		return false
	}
	d.store.DB.Exec(`DELETE FROM agent_interrupt WHERE agent_name = ?`, d.agentCfg.Name)
	return true
}

func (d *AgentDaemon) logCompaction(tokensPre, tokensPost int64) {
	if _, err := d.store.DB.Exec(
		`INSERT INTO compaction_log
            (agent_name, model, pid, rss_pre_bytes, tokens_pre, tokens_post, generation, compacted_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.agentCfg.Name, nullable(d.agentCfg.Model), os.Getpid(),
		rssBytes(d.childPID), tokensPre, tokensPost, d.generation, store.NowISO(),
	); err != nil {
		d.logf("WARNING: recording compaction failed: %v", err)
	}
}

func (d *AgentDaemon) updateSessionID(sessionID string) {
	d.provider.SetSessionID(sessionID)
	if _, err := d.store.DB.Exec(
		`UPDATE agents SET session_id = ? WHERE name = ?`, sessionID, d.agentCfg.Name,
	); err != nil {
		d.logf("WARNING: storing session id failed: %v", err)
	}
}

func (d *AgentDaemon) registerSelf() {
	if err := d.registry.Register(RegistryEntry{
		Agent:      d.agentCfg.Name,
		Crew:       d.cfg.CrewName,
		PID:        os.Getpid(),
		Generation: d.generation,
		DBPath:     d.cfg.CommsDB,
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		d.logf("WARNING: registry update failed: %v", err)
	}
}

func (d *AgentDaemon) writeState(status string, extra map[string]any) {
	d.state.write(d.agentCfg.Name, d.agentCfg.Provider, status, d.failures, d.resumeReady, extra)
	// Piggyback an RSS sample while the child is known.
	if d.childPID > 0 {
		d.store.DB.Exec(`UPDATE agents SET rss_bytes = ? WHERE name = ?`,
			rssBytes(d.childPID), d.agentCfg.Name)
	}
}

func (d *AgentDaemon) printStreamStart(commandName string) {
	d.invocation++
	fmt.Fprintf(d.console, "\n=== model-stream start: agent=%s cmd=%s v=%d ts=%s ===\n",
		d.agentCfg.Name, commandName, d.invocation, time.Now().Format("15:04:05"))
}

func (d *AgentDaemon) printStreamEnd(commandName string, displayedChars, hiddenChars int) {
	if hiddenChars > 0 {
		fmt.Fprintf(d.console, "\n[model-stream abbreviated: %d chars hidden]\n", hiddenChars)
	}
	fmt.Fprintf(d.console, "=== model-stream end: agent=%s cmd=%s v=%d ts=%s shown=%d chars ===\n",
		d.agentCfg.Name, commandName, d.invocation, time.Now().Format("15:04:05"), displayedChars)
}

func (d *AgentDaemon) logf(format string, args ...any) {
	d.logger.Printf(format, args...)
}

// standdown parks the agent when the post-invocation work-check finds
// nothing claimable. Polling continues cheaply, the session survives,
// and the lead hears about it once per episode.
func (d *AgentDaemon) standdown(generation int) {
	wasDown := d.stoodDown
	d.stoodDown = true
	d.logf("standdown: no remaining work (last_task_id=%d)", d.lastTaskID)
	d.writeState("stood_down", map[string]any{
		"generation":   generation,
		"last_task_id": d.lastTaskID,
	})
	if !wasDown {
		d.alertLead(fmt.Sprintf("%s stood down: no remaining work", d.agentCfg.Name))
	}
}

// wakeFromStanddown decides resume versus fresh start when work
// arrives for a stood-down agent. A message, or the same task routed
// back, keeps the session; a different task clears it so the next
// invocation starts clean.
func (d *AgentDaemon) wakeFromStanddown(pollData map[string]any) {
	d.stoodDown = false
	if len(mapSlice(pollData["messages"])) > 0 {
		d.logf("waking from standdown: resume session")
		return
	}
	for _, task := range mapSlice(pollData["tasks"]) {
		if d.lastTaskID != 0 && taskIDAt(task) == d.lastTaskID {
			d.logf("waking from standdown: resume session")
			return
		}
	}
	d.logf("waking from standdown: new task, fresh session")
	d.resumeReady = false
	d.provider.SetSessionID("")
}

func taskIDAt(m map[string]any) int64 {
	switch v := m["task_id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
