package mcpserver

// ObserverContract documents the event/result contract for user-authored
// observer scripts. It is exposed as an MCP resource so LLM clients can
// author scripts that the pipeline accepts.
const ObserverContract = `# Observer Plugin Contract

Observer scripts live in the configured scripts directory. Files ending in
` + "`.lua`" + ` run in a sandboxed Lua interpreter; files ending in ` + "`.js`" + `
run in an embedded JavaScript interpreter. The file name (minus extension)
becomes the observer name.

## Directives

Leading comment lines may carry directives:

    -- priority: 40
    -- events: Created, Updated
    -- timeout: 10s

(` + "`//`" + ` for JavaScript.) Priority defaults to 50; lower numbers run
first. Events defaults to all of Created, Updated, Synced, Deleted.

## Entry point

Each script must define an ` + "`on_event`" + ` function. It receives a single
table/object keyed by the event kind:

    function on_event(event)
      local payload = event.Updated or event.Created or event.Synced
      if payload == nil then return nil end
      -- payload.title, payload.content, payload.file_path,
      -- payload.frontmatter (string map)
    end

## Return value

Return ` + "`nil`" + ` (or nothing) to leave the note untouched. To mutate the
note, return a table/object with either or both of:

- ` + "`metadata`" + `: a string map merged into the frontmatter. Keys
  ` + "`tags`" + ` and ` + "`topics`" + ` are comma-separated lists and merge as
  a sorted union. ` + "`created_at`" + ` is first-writer-wins;
  ` + "`updated_at`" + ` overwrites. Other keys follow priority order: the
  first (highest-priority) observer to claim a key wins and later writes are
  reported as shadowed. A value of ` + "`\"\\x00\"`" + ` deletes the key.
- ` + "`content`" + `: the full replacement note body (without frontmatter).

Observers that exceed their timeout or raise an error are reported as failed;
other observers still run against the same event.

## Note format

Notes are Markdown files with optional YAML frontmatter:

    ---
    title: My Note
    tags: go, pipelines
    created_at: 2026-01-02 15:04:05 +0000
    ---

    # My Note

    Body text. [[Wikilinks]] refer to other notes by title.

Frontmatter values are flat strings; list-valued keys are comma-joined.
Files whose names start with ` + "`_`" + ` are derived artifacts (for example
` + "`_tag_index.md`" + `) and are never dispatched to observers.

## Fenced code conventions

- ` + "```lua" + ` fences are executed and their output inserted below the
  fence as ` + "`> Output:`" + ` quoted lines.
- ` + "```sql" + ` fences are run read-only against the note database and the
  result table is inserted between ` + "`<!-- BEGIN SQL -->`" + ` and
  ` + "`<!-- END SQL -->`" + ` markers.
`
