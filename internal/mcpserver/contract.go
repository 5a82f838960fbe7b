package mcpserver

// MarkdownGrammar describes the markdown subset notes are stored in. Text
// outside it is kept as plain paragraphs.
const MarkdownGrammar = `# Mono Markdown Grammar

Notes are stored remotely as "/<name>.md" files. Only the constructs below
keep their structure when a note is read back. Anything else becomes a plain
paragraph.

## Blocks

    # Heading 1 ... ###### Heading 6
    A paragraph is one line.
    End a line with two spaces  
    to continue the same paragraph.
    - bullet item            (* and + are read as -)
    1. ordered item
    - [ ] open task
    - [x] done task
      - nested items are indented two spaces past their parent
      lines indented two spaces under an item belong to it
    > every quoted line starts with "> "
    ---                      (*** and ___ also work)

Code blocks are fenced by three backticks with an optional language and end
with three backticks on their own line.

Blank lines separate blocks. Each extra blank line is kept as an empty
paragraph.

## Inline

    **bold**  *italic*  ~~strike~~  [text](https://example.com)

Inline code is wrapped in single backticks. Marks do not overlap.

## Conflicts

When a note changed both locally and remotely since the last sync, the remote
text is appended after the local text under a "# Conflict" heading with both
update times and a rule. Resolve it by editing the note.
`
