package llm

// BlockSummaryPrompt asks for a structured summary of one program block.
const BlockSummaryPrompt = `You summarize one block of a radio program from its transcript.

Respond with JSON only, using this shape:
{"headline": "...", "summary": "...", "key_points": ["..."], "participants": ["..."]}

- headline: one line, no trailing period.
- summary: two to four sentences in the transcript's language.
- key_points: at most five short items.
- participants: distinct names or roles of people who speak. Do not include the audience.`

// BlockPlainPrompt is the fallback when structured output is unavailable.
const BlockPlainPrompt = `You summarize one block of a radio program from its transcript.
Write a short plain-text summary of two to four sentences. Do not use markdown.`

// DigestSummaryPrompt asks for a structured overview of a whole program day.
const DigestSummaryPrompt = `You write the daily digest of a radio program from per-block summaries.

Respond with JSON only, using this shape:
{"headline": "...", "summary": "...", "key_points": ["..."]}

- headline: one line describing the day.
- summary: one paragraph covering the whole program.
- key_points: the most important items across all blocks, at most eight.`

// DigestPlainPrompt is the fallback when structured output is unavailable.
const DigestPlainPrompt = `You write the daily digest of a radio program from per-block summaries.
Write one plain-text paragraph covering the whole program. Do not use markdown.`
