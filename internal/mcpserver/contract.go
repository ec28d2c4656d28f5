package mcpserver

// WorkflowContract describes how LLM consumers should use the version
// history tools. Exposed as the perthro://workflow resource.
const WorkflowContract = `# Perthro Script Workflow

Perthro keeps a linear timeline of full-content snapshots per script,
identified by (owner, script).

## Rules

1. **Read before you write.** Call ` + "`get_script`" + ` first; it returns the
   current content from the hosting service (or, if the service is down,
   the newest local snapshot together with a degradation notice).
2. **Save what you change.** Record meaningful intermediate states with
   ` + "`save_version`" + ` and a short note. Every save is kept as its own
   snapshot; identical content saved twice yields two history entries.
3. **Publishing is separate from history.** ` + "`publish_script`" + ` pushes the
   content to the hosting service and carries the script's existing binding
   configuration forward. It records nothing locally; call
   ` + "`save_version`" + ` yourself if you want a history marker.
4. **Recovering:** ` + "`last_checkpoint`" + ` returns the newest non-autosave
   snapshot. Use it to discard a run of automatic saves.
5. **Destructive tools** (` + "`reset_history`" + `) remove manual and autosave
   snapshots permanently; snapshots that mirror the hosting service are
   kept. Only call them when the user explicitly asks.
`
