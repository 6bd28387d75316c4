package llm

const analyzePrompt = `You analyze an item bank for coverage gaps.
Given the current per-category, per-difficulty, and per-type counts and the
batch target, report how many additional items each value needs.
Respond with JSON only:
{"category_gaps":{"name":count},"difficulty_gaps":{"name":count},"type_gaps":{"name":count}}`

const planPrompt = `You plan a production batch for an item bank.
Given coverage gaps and a batch target, allocate the batch across category,
difficulty, and type combinations. Allocation counts must sum exactly to the
target item count.
Respond with JSON only:
{"allocations":[{"category":"","difficulty":"","type":"","count":0}]}`

const researchPrompt = `You collect concise factual background notes for exam
authoring. For each requested category, write two or three sentences of
accurate technical background an item author could draw on.
Respond with JSON only:
{"notes":{"category":"note text"}}`

const generatePrompt = `You author exam items. Follow the plan exactly: produce
the requested number of items per allocation, each with a clear prompt, four
plausible options, the correct answer copied verbatim from the options, and a
short explanation. For multiple_response items list the correct options comma
separated in the answer field. Do not invent item ids.
Respond with JSON only:
{"items":[{"category":"","difficulty":"","type":"","prompt":"","options":["","","",""],"answer":"","explanation":""}]}`

const assessPrompt = `You review drafted exam items for quality. Score the
batch between 0 and 1 and list concrete defects (ambiguous prompts, wrong
answers, implausible distractors). An empty defect list means the batch is
clean.
Respond with JSON only:
{"quality_score":0.0,"issues":["defect"]}`

const optimizePrompt = `You polish drafted exam items. Fix wording, tighten
prompts, and fill missing explanations without changing the category,
difficulty, type, or correct answer of any item. Return every item, in order.
Respond with JSON only:
{"items":[{"category":"","difficulty":"","type":"","prompt":"","options":["","","",""],"answer":"","explanation":""}]}`
